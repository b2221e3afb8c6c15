package sync

import (
	"context"
	"log/slog"
	"slices"
)

// Category is a coarse read-cache tag. Invalidation works per category, never
// per record.
type Category string

// Read-cache categories touched by mutations.
const (
	CategoryJournal  Category = "journal"
	CategoryStreaks  Category = "streaks"
	CategoryCalendar Category = "calendar"
	CategoryProfile  Category = "profile"
)

// categoriesFor returns the categories a mutation type makes stale.
func categoriesFor(t MutationType) []Category {
	switch t {
	case MutationAddStatement, MutationEditStatement, MutationDeleteStatement:
		return []Category{CategoryJournal, CategoryStreaks, CategoryCalendar}
	case MutationUpdateProfile:
		return []Category{CategoryProfile}
	default:
		return nil
	}
}

// categorySet accumulates categories in first-seen order.
type categorySet struct {
	seen  map[Category]bool
	order []Category
}

func (s *categorySet) add(cats ...Category) {
	if s.seen == nil {
		s.seen = make(map[Category]bool)
	}

	for _, c := range cats {
		if !s.seen[c] {
			s.seen[c] = true
			s.order = append(s.order, c)
		}
	}
}

func (s *categorySet) list() []Category {
	return s.order
}

// CacheInvalidator is told which categories a pass made stale. Called at
// most once per pass, and only when at least one mutation succeeded.
type CacheInvalidator interface {
	Invalidate(ctx context.Context, categories []Category)
}

// ReadCache is the external read-cache layer. Invalidate drops every entry
// whose tags satisfy match.
type ReadCache interface {
	Invalidate(match func(tags []string) bool)
}

// Broadcaster forwards invalidations to out-of-process caches. Satisfied by
// *notify.Hub.
type Broadcaster interface {
	BroadcastInvalidation(ctx context.Context, categories []string) error
}

// CategoryInvalidator fans a category invalidation out to local read caches
// and an optional broadcaster.
type CategoryInvalidator struct {
	caches      []ReadCache
	broadcaster Broadcaster
	logger      *slog.Logger
}

// NewCategoryInvalidator creates an invalidator. broadcaster may be nil.
func NewCategoryInvalidator(logger *slog.Logger, broadcaster Broadcaster, caches ...ReadCache) *CategoryInvalidator {
	if logger == nil {
		logger = slog.Default()
	}

	return &CategoryInvalidator{caches: caches, broadcaster: broadcaster, logger: logger}
}

// Invalidate implements CacheInvalidator. Broadcast failures are logged; a
// cache that misses an invalidation refetches on its own schedule.
func (ci *CategoryInvalidator) Invalidate(ctx context.Context, categories []Category) {
	if len(categories) == 0 {
		return
	}

	names := make([]string, len(categories))
	for i, c := range categories {
		names[i] = string(c)
	}

	match := func(tags []string) bool {
		return slices.ContainsFunc(tags, func(tag string) bool {
			return slices.Contains(names, tag)
		})
	}

	for _, c := range ci.caches {
		c.Invalidate(match)
	}

	if ci.broadcaster != nil {
		if err := ci.broadcaster.BroadcastInvalidation(ctx, names); err != nil {
			ci.logger.Warn("invalidation broadcast failed",
				slog.String("error", err.Error()),
			)
		}
	}

	ci.logger.Info("read cache invalidated", slog.Any("categories", names))
}
