package audit

// Action tags what happened. Values are stored verbatim.
type Action string

const (
	ActionAccessDenied Action = "ACCESS_DENIED"
	ActionRoleGrant    Action = "ROLE_GRANT"
	ActionAuditCleanup Action = "AUDIT_CLEANUP"

	ActionBannerCreate Action = "BANNER_CREATE"
	ActionBannerUpdate Action = "BANNER_UPDATE"
	ActionBannerDelete Action = "BANNER_DELETE"

	ActionNewsCreate Action = "NEWS_CREATE"
	ActionNewsUpdate Action = "NEWS_UPDATE"
	ActionNewsDelete Action = "NEWS_DELETE"

	ActionEventCreate Action = "EVENT_CREATE"
	ActionEventUpdate Action = "EVENT_UPDATE"
	ActionEventDelete Action = "EVENT_DELETE"

	ActionCongregationCreate Action = "CONGREGATION_CREATE"
	ActionCongregationUpdate Action = "CONGREGATION_UPDATE"
	ActionCongregationDelete Action = "CONGREGATION_DELETE"

	ActionCampaignCreate Action = "CAMPAIGN_CREATE"
	ActionCampaignUpdate Action = "CAMPAIGN_UPDATE"
	ActionCampaignDelete Action = "CAMPAIGN_DELETE"

	ActionPageCreate Action = "PAGE_CREATE"
	ActionPageUpdate Action = "PAGE_UPDATE"
	ActionPageDelete Action = "PAGE_DELETE"
)

var actions = map[Action]struct{}{
	ActionAccessDenied: {}, ActionRoleGrant: {}, ActionAuditCleanup: {},
	ActionBannerCreate: {}, ActionBannerUpdate: {}, ActionBannerDelete: {},
	ActionNewsCreate: {}, ActionNewsUpdate: {}, ActionNewsDelete: {},
	ActionEventCreate: {}, ActionEventUpdate: {}, ActionEventDelete: {},
	ActionCongregationCreate: {}, ActionCongregationUpdate: {}, ActionCongregationDelete: {},
	ActionCampaignCreate: {}, ActionCampaignUpdate: {}, ActionCampaignDelete: {},
	ActionPageCreate: {}, ActionPageUpdate: {}, ActionPageDelete: {},
}

func (a Action) Valid() bool {
	_, ok := actions[a]
	return ok
}

func (a Action) String() string { return string(a) }

// ResourceType names the kind of thing an action touched.
type ResourceType string

const (
	ResourceAuthorization   ResourceType = "authorization"
	ResourceRoleAssignments ResourceType = "role_assignments"
	ResourceAuditLogs       ResourceType = "audit_logs"
	ResourceBanners         ResourceType = "banners"
	ResourceNews            ResourceType = "news"
	ResourceEvents          ResourceType = "events"
	ResourceCongregations   ResourceType = "congregations"
	ResourceCampaigns       ResourceType = "campaigns"
	ResourcePages           ResourceType = "pages"
)

func (r ResourceType) Valid() bool {
	switch r {
	case ResourceAuthorization, ResourceRoleAssignments, ResourceAuditLogs,
		ResourceBanners, ResourceNews, ResourceEvents, ResourceCongregations,
		ResourceCampaigns, ResourcePages:
		return true
	}
	return false
}

func (r ResourceType) String() string { return string(r) }
