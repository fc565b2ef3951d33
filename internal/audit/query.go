package audit

import (
	"context"
	"strings"

	"golang.org/x/sync/errgroup"

	"igrejaportal.org/internal/auth"
)

const (
	DefaultPageSize = 20
	MinPageSize     = 10
	MaxPageSize     = 100
)

// Normalize applies the paging defaults and bounds.
func (q Query) Normalize() Query {
	if q.Page < 1 {
		q.Page = 1
	}
	switch {
	case q.PageSize == 0:
		q.PageSize = DefaultPageSize
	case q.PageSize < MinPageSize:
		q.PageSize = MinPageSize
	case q.PageSize > MaxPageSize:
		q.PageSize = MaxPageSize
	}
	q.Action = strings.TrimSpace(q.Action)
	q.ResourceType = strings.TrimSpace(q.ResourceType)
	return q
}

// Query returns one page of entries, newest first, enriched with the
// current email and display name of each actor on the page. Store failures
// degrade to an empty page with Error set.
func (l *Log) Query(ctx context.Context, q Query) Page {
	q = q.Normalize()
	page := Page{Entries: []Entry{}, Page: q.Page, PageSize: q.PageSize}

	total, err := l.store.Count(ctx, q.Filter)
	if err != nil {
		l.log.WithError(err).Warn("audit count failed")
		page.Error = "audit log unavailable"
		return page
	}
	entries, err := l.store.Search(ctx, q.Filter, q.PageSize, (q.Page-1)*q.PageSize)
	if err != nil {
		l.log.WithError(err).Warn("audit search failed")
		page.Error = "audit log unavailable"
		return page
	}

	for i := range entries {
		entries[i].ActorUserEmail = nil
		entries[i].ActorUserName = nil
	}
	l.enrich(ctx, entries)

	page.Total = total
	if entries != nil {
		page.Entries = entries
	}
	return page
}

// enrich looks up each distinct actor of the page once. A failed lookup
// leaves only that actor's entries unenriched.
func (l *Log) enrich(ctx context.Context, entries []Entry) {
	if l.users == nil || len(entries) == 0 {
		return
	}
	var actorIDs []string
	seen := make(map[string]struct{})
	for _, e := range entries {
		if e.ActorUserID == nil || *e.ActorUserID == "" {
			continue
		}
		if _, ok := seen[*e.ActorUserID]; ok {
			continue
		}
		seen[*e.ActorUserID] = struct{}{}
		actorIDs = append(actorIDs, *e.ActorUserID)
	}
	if len(actorIDs) == 0 {
		return
	}

	found := make([]*auth.Identity, len(actorIDs))
	var g errgroup.Group
	g.SetLimit(l.enrichLimit)
	for i, id := range actorIDs {
		g.Go(func() error {
			user, err := l.users.UserByID(ctx, id)
			if err != nil {
				l.log.WithError(err).WithField("user_id", id).Debug("actor enrichment failed")
				return nil
			}
			found[i] = user
			return nil
		})
	}
	_ = g.Wait()

	byID := make(map[string]*auth.Identity, len(actorIDs))
	for i, id := range actorIDs {
		if found[i] != nil {
			byID[id] = found[i]
		}
	}
	for i := range entries {
		if entries[i].ActorUserID == nil {
			continue
		}
		user, ok := byID[*entries[i].ActorUserID]
		if !ok {
			continue
		}
		entries[i].ActorUserEmail = strPtr(user.Email)
		entries[i].ActorUserName = user.DisplayName()
	}
}
