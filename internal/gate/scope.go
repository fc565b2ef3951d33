package gate

// Scope labels the operation asking for access. It is stored verbatim as the
// resource id of ACCESS_DENIED entries.
type Scope string

const (
	ScopeBannersCreate Scope = "banners.create"
	ScopeBannersUpdate Scope = "banners.update"
	ScopeBannersDelete Scope = "banners.delete"

	ScopeNewsCreate Scope = "news.create"
	ScopeNewsUpdate Scope = "news.update"
	ScopeNewsDelete Scope = "news.delete"

	ScopeEventsCreate Scope = "events.create"
	ScopeEventsUpdate Scope = "events.update"
	ScopeEventsDelete Scope = "events.delete"

	ScopeCongregationsCreate Scope = "congregations.create"
	ScopeCongregationsUpdate Scope = "congregations.update"
	ScopeCongregationsDelete Scope = "congregations.delete"

	ScopeCampaignsCreate Scope = "campaigns.create"
	ScopeCampaignsUpdate Scope = "campaigns.update"
	ScopeCampaignsDelete Scope = "campaigns.delete"

	ScopePagesCreate Scope = "pages.create"
	ScopePagesUpdate Scope = "pages.update"
	ScopePagesDelete Scope = "pages.delete"

	ScopeAuditLogsView    Scope = "audit_logs.view"
	ScopeAuditLogsCleanup Scope = "audit_logs.cleanup"
	ScopeRolesGrant       Scope = "roles.grant"
	ScopeRolesView        Scope = "roles.view"
	ScopeSessionMe        Scope = "session.me"
)

var scopes = map[Scope]struct{}{
	ScopeBannersCreate: {}, ScopeBannersUpdate: {}, ScopeBannersDelete: {},
	ScopeNewsCreate: {}, ScopeNewsUpdate: {}, ScopeNewsDelete: {},
	ScopeEventsCreate: {}, ScopeEventsUpdate: {}, ScopeEventsDelete: {},
	ScopeCongregationsCreate: {}, ScopeCongregationsUpdate: {}, ScopeCongregationsDelete: {},
	ScopeCampaignsCreate: {}, ScopeCampaignsUpdate: {}, ScopeCampaignsDelete: {},
	ScopePagesCreate: {}, ScopePagesUpdate: {}, ScopePagesDelete: {},
	ScopeAuditLogsView: {}, ScopeAuditLogsCleanup: {},
	ScopeRolesGrant: {}, ScopeRolesView: {}, ScopeSessionMe: {},
}

func (s Scope) Valid() bool {
	_, ok := scopes[s]
	return ok
}

func (s Scope) String() string { return string(s) }
