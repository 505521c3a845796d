package domain

type EthicalDomain string

const (
	DomainPrivacy         EthicalDomain = "PRIVACY"
	DomainEquity          EthicalDomain = "EQUITY"
	DomainTransparency    EthicalDomain = "TRANSPARENCY"
	DomainAutonomy        EthicalDomain = "AUTONOMY"
	DomainSecurity        EthicalDomain = "SECURITY"
	DomainRecourse        EthicalDomain = "RECOURSE"
	DomainMastery         EthicalDomain = "MASTERY"
	DomainResponsibility  EthicalDomain = "RESPONSIBILITY"
	DomainSovereignty     EthicalDomain = "SOVEREIGNTY"
	DomainSustainability  EthicalDomain = "SUSTAINABILITY"
	DomainLoyalty         EthicalDomain = "LOYALTY"
	DomainSocietalBalance EthicalDomain = "SOCIETAL_BALANCE"
)

type Circle string

const (
	CirclePersons      Circle = "PERSONS"
	CircleOrganization Circle = "ORGANIZATION"
	CircleSociety      Circle = "SOCIETY"
)

type DomainInfo struct {
	ID     EthicalDomain `json:"id"`
	Label  string        `json:"label"`
	Circle Circle        `json:"circle"`
}

var domainCatalog = []DomainInfo{
	{ID: DomainPrivacy, Label: "Privacy", Circle: CirclePersons},
	{ID: DomainEquity, Label: "Equity", Circle: CirclePersons},
	{ID: DomainTransparency, Label: "Transparency", Circle: CirclePersons},
	{ID: DomainAutonomy, Label: "Autonomy", Circle: CirclePersons},
	{ID: DomainSecurity, Label: "Security", Circle: CirclePersons},
	{ID: DomainRecourse, Label: "Recourse", Circle: CirclePersons},
	{ID: DomainMastery, Label: "Mastery", Circle: CircleOrganization},
	{ID: DomainResponsibility, Label: "Responsibility", Circle: CircleOrganization},
	{ID: DomainSovereignty, Label: "Sovereignty", Circle: CircleOrganization},
	{ID: DomainSustainability, Label: "Sustainability", Circle: CircleSociety},
	{ID: DomainLoyalty, Label: "Loyalty", Circle: CircleSociety},
	{ID: DomainSocietalBalance, Label: "Societal balance", Circle: CircleSociety},
}

// EthicalDomains returns the closed set of domains in catalog order.
func EthicalDomains() []EthicalDomain {
	out := make([]EthicalDomain, len(domainCatalog))
	for i, d := range domainCatalog {
		out[i] = d.ID
	}
	return out
}

// DomainCatalog returns a copy of the domain reference data.
func DomainCatalog() []DomainInfo {
	return append([]DomainInfo(nil), domainCatalog...)
}

func (d EthicalDomain) Valid() bool {
	for _, info := range domainCatalog {
		if info.ID == d {
			return true
		}
	}
	return false
}

func (d EthicalDomain) Info() (DomainInfo, bool) {
	for _, info := range domainCatalog {
		if info.ID == d {
			return info, true
		}
	}
	return DomainInfo{}, false
}
