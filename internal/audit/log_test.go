package audit_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"igrejaportal.org/internal/audit"
	"igrejaportal.org/internal/audit/audittest"
	"igrejaportal.org/internal/auth"
	"igrejaportal.org/internal/obs"
)

var fixedNow = time.Date(2026, 6, 15, 12, 0, 0, 0, time.UTC)

func newLog(t *testing.T, store audit.Store, opts ...audit.LogOption) *audit.Log {
	t.Helper()
	opts = append([]audit.LogOption{audit.WithClock(func() time.Time { return fixedNow })}, opts...)
	l, err := audit.NewLog(store, opts...)
	require.NoError(t, err)
	return l
}

type staticActor struct {
	id   string
	role *auth.Role
	ok   bool
}

func (s staticActor) CurrentActor(context.Context) (string, *auth.Role, bool) {
	return s.id, s.role, s.ok
}

func TestRecordStoresEntry(t *testing.T) {
	store := audittest.NewStore()
	l := newLog(t, store)
	role := auth.RoleOperador

	res := l.Record(context.Background(), audit.Event{
		Action:       audit.ActionBannerCreate,
		ResourceType: audit.ResourceBanners,
		ResourceID:   "b-1",
		Payload:      map[string]any{"title": "Culto"},
		Actor:        audit.ActorOf("u-1", &role),
	})
	require.NoError(t, res.Dropped)
	require.NotEmpty(t, res.ID)

	all := store.All()
	require.Len(t, all, 1)
	e := all[0]
	assert.Equal(t, res.ID, e.ID)
	assert.Equal(t, "u-1", *e.ActorUserID)
	assert.Equal(t, "operador", *e.ActorRole)
	assert.Equal(t, "b-1", *e.ResourceID)
	assert.Equal(t, fixedNow, e.CreatedAt)
	assert.Equal(t, "Culto", e.Payload["title"])
}

func TestRecordResolvesActorWhenOmitted(t *testing.T) {
	store := audittest.NewStore()
	role := auth.RoleAdmin
	l := newLog(t, store, audit.WithActorResolver(staticActor{id: "u-9", role: &role, ok: true}))

	res := l.Record(context.Background(), audit.Event{Action: audit.ActionPageDelete, ResourceType: audit.ResourcePages})
	require.NoError(t, res.Dropped)
	e := store.All()[0]
	assert.Equal(t, "u-9", *e.ActorUserID)
	assert.Equal(t, "admin", *e.ActorRole)
	assert.Nil(t, e.ResourceID)
	assert.NotNil(t, e.Payload)
}

func TestRecordExplicitSystemActor(t *testing.T) {
	store := audittest.NewStore()
	l := newLog(t, store, audit.WithActorResolver(staticActor{id: "someone", ok: true}))

	l.Record(context.Background(), audit.Event{Action: audit.ActionAccessDenied, ResourceType: audit.ResourceAuthorization, Actor: &audit.Actor{}})
	e := store.All()[0]
	assert.Nil(t, e.ActorUserID)
	assert.Nil(t, e.ActorRole)
}

func TestRecordFailureIsDroppedAndLoggedLocally(t *testing.T) {
	store := audittest.NewStore()
	store.InsertErr = errors.New("relation audit_logs does not exist")
	var buf bytes.Buffer
	l := newLog(t, store, audit.WithLogger(obs.NewLogger("info", "json", &buf)))

	ctx := audit.WithRequestID(context.Background(), "req-7")
	res := l.Record(ctx, audit.Event{
		Action:       audit.ActionNewsUpdate,
		ResourceType: audit.ResourceNews,
		ResourceID:   "n-1",
		Actor:        audit.ActorOf("u-1", nil),
	})
	assert.Empty(t, res.ID)
	require.Error(t, res.Dropped)

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "audit", line["type"])
	assert.Equal(t, "NEWS_UPDATE", line["event"])
	assert.Equal(t, "req-7", line["request_id"])
	assert.Equal(t, "u-1", line["user_id"])
	assert.Equal(t, "n-1", line["resource_id"])
}

func TestRecordRejectsUnknownTags(t *testing.T) {
	store := audittest.NewStore()
	l := newLog(t, store, audit.WithLogger(obs.NewLogger("panic", "json", &bytes.Buffer{})))

	res := l.Record(context.Background(), audit.Event{Action: "BANNER_EXPLODE", ResourceType: audit.ResourceBanners})
	assert.ErrorIs(t, res.Dropped, audit.ErrInvalidEvent)
	assert.Empty(t, store.All())
}

func TestQueryNormalize(t *testing.T) {
	cases := []struct {
		in       audit.Query
		page     int
		pageSize int
	}{
		{audit.Query{}, 1, 20},
		{audit.Query{Page: -3, PageSize: 5}, 1, 10},
		{audit.Query{Page: 4, PageSize: 500}, 4, 100},
		{audit.Query{Page: 2, PageSize: 35}, 2, 35},
	}
	for _, tc := range cases {
		got := tc.in.Normalize()
		assert.Equal(t, tc.page, got.Page)
		assert.Equal(t, tc.pageSize, got.PageSize)
	}
}

func seed(store *audittest.Store, n int) {
	for i := 0; i < n; i++ {
		actor := fmt.Sprintf("u-%d", i%3)
		action := audit.ActionBannerCreate
		resource := audit.ResourceBanners
		if i%2 == 1 {
			action = audit.ActionEventDelete
			resource = audit.ResourceEvents
		}
		store.Put(audit.Entry{
			ID:           fmt.Sprintf("%03d", i),
			ActorUserID:  &actor,
			Action:       action,
			ResourceType: resource,
			Payload:      map[string]any{},
			// pairs share a timestamp so the id tie-break matters
			CreatedAt: fixedNow.Add(-time.Duration(i/2) * time.Hour),
		})
	}
}

func TestQueryPaginationCoversTotal(t *testing.T) {
	store := audittest.NewStore()
	seed(store, 47)
	l := newLog(t, store)

	for _, filter := range []audit.Filter{{}, {Action: "banner"}, {ResourceType: "EVENTS"}} {
		first := l.Query(context.Background(), audit.Query{PageSize: 10, Filter: filter})
		require.Empty(t, first.Error)
		pages := (first.Total + first.PageSize - 1) / first.PageSize

		seen := map[string]bool{}
		sum := 0
		for p := 1; p <= pages; p++ {
			page := l.Query(context.Background(), audit.Query{Page: p, PageSize: 10, Filter: filter})
			sum += len(page.Entries)
			for i, e := range page.Entries {
				assert.False(t, seen[e.ID], "duplicate %s", e.ID)
				seen[e.ID] = true
				if i > 0 {
					prev := page.Entries[i-1]
					assert.False(t, e.CreatedAt.After(prev.CreatedAt))
					if e.CreatedAt.Equal(prev.CreatedAt) {
						assert.Less(t, e.ID, prev.ID)
					}
				}
			}
		}
		assert.Equal(t, first.Total, sum, "filter %+v", filter)
	}
}

func TestQueryFilters(t *testing.T) {
	store := audittest.NewStore()
	seed(store, 10)
	l := newLog(t, store)

	page := l.Query(context.Background(), audit.Query{Filter: audit.Filter{Action: "delete"}})
	assert.Equal(t, 5, page.Total)
	for _, e := range page.Entries {
		assert.Equal(t, audit.ActionEventDelete, e.Action)
	}

	from := fixedNow.Add(-2 * time.Hour)
	to := fixedNow.Add(-1 * time.Hour)
	page = l.Query(context.Background(), audit.Query{Filter: audit.Filter{From: &from, To: &to}})
	assert.Equal(t, 4, page.Total, "bounds are inclusive")
}

func TestQueryEnrichmentIsolation(t *testing.T) {
	store := audittest.NewStore()
	seed(store, 9)
	store.Put(audit.Entry{ID: "sys", Action: audit.ActionAuditCleanup, ResourceType: audit.ResourceAuditLogs, CreatedAt: fixedNow})
	users := audittest.NewUsers()
	users.Known["u-0"] = auth.Identity{ID: "u-0", Email: "zero@example.org", Metadata: map[string]any{"nome": "Zero"}}
	users.Known["u-2"] = auth.Identity{ID: "u-2", Email: "two@example.org", Metadata: map[string]any{"full_name": "Two Full"}}
	users.Fail["u-1"] = errors.New("identity service timeout")
	l := newLog(t, store, audit.WithUserDirectory(users), audit.WithEnrichConcurrency(2))

	page := l.Query(context.Background(), audit.Query{})
	require.Empty(t, page.Error)
	require.Len(t, page.Entries, 10)
	for _, e := range page.Entries {
		switch {
		case e.ActorUserID == nil:
			assert.Nil(t, e.ActorUserEmail)
		case *e.ActorUserID == "u-0":
			assert.Equal(t, "zero@example.org", *e.ActorUserEmail)
			assert.Equal(t, "Zero", *e.ActorUserName)
		case *e.ActorUserID == "u-1":
			assert.Nil(t, e.ActorUserEmail)
			assert.Nil(t, e.ActorUserName)
		case *e.ActorUserID == "u-2":
			assert.Equal(t, "two@example.org", *e.ActorUserEmail)
			assert.Equal(t, "Two Full", *e.ActorUserName)
		}
	}
	for id, n := range users.Calls {
		assert.Equal(t, 1, n, "actor %s looked up more than once", id)
	}

	for _, e := range store.All() {
		assert.Nil(t, e.ActorUserEmail, "enrichment must not be persisted")
	}
}

func TestQueryDegradesOnStoreFailure(t *testing.T) {
	store := audittest.NewStore()
	seed(store, 5)
	store.SearchErr = errors.New("statement timeout")
	l := newLog(t, store, audit.WithLogger(obs.NewLogger("panic", "json", &bytes.Buffer{})))

	page := l.Query(context.Background(), audit.Query{Page: 2, PageSize: 10})
	assert.NotEmpty(t, page.Error)
	assert.Equal(t, 0, page.Total)
	assert.NotNil(t, page.Entries)
	assert.Empty(t, page.Entries)
	assert.Equal(t, 2, page.Page)
}

func TestCleanupRetention(t *testing.T) {
	store := audittest.NewStore()
	day := 24 * time.Hour
	store.Put(audit.Entry{ID: "old", Action: audit.ActionBannerDelete, ResourceType: audit.ResourceBanners, CreatedAt: fixedNow.Add(-31 * day)})
	store.Put(audit.Entry{ID: "edge", Action: audit.ActionBannerDelete, ResourceType: audit.ResourceBanners, CreatedAt: fixedNow.Add(-30 * day)})
	store.Put(audit.Entry{ID: "recent", Action: audit.ActionBannerDelete, ResourceType: audit.ResourceBanners, CreatedAt: fixedNow.Add(-10 * day)})
	l := newLog(t, store)

	res := l.Cleanup(context.Background(), 30)
	require.Empty(t, res.Error)
	assert.EqualValues(t, 1, res.Deleted)
	assert.Equal(t, fixedNow.Add(-30*day), res.Threshold)

	again := l.Cleanup(context.Background(), 30)
	assert.EqualValues(t, 0, again.Deleted)

	page := l.Query(context.Background(), audit.Query{})
	var got []string
	for _, e := range page.Entries {
		got = append(got, e.ID)
	}
	assert.ElementsMatch(t, []string{"edge", "recent"}, got)

	def := l.Cleanup(context.Background(), 0)
	assert.Equal(t, res.Threshold, def.Threshold)
}

func TestCleanupFailure(t *testing.T) {
	store := audittest.NewStore()
	store.DeleteErr = errors.New("permission denied")
	l := newLog(t, store, audit.WithLogger(obs.NewLogger("panic", "json", &bytes.Buffer{})))

	res := l.Cleanup(context.Background(), 7)
	assert.EqualValues(t, 0, res.Deleted)
	assert.NotEmpty(t, res.Error)
}

func TestLikePatternEscapesWildcards(t *testing.T) {
	assert.Equal(t, `%banner%`, audit.LikePattern("banner"))
	assert.Equal(t, `%100\%\_off\\%`, audit.LikePattern(`100%_off\`))
}
