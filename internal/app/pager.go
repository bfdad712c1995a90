package app

import (
	"context"
	"errors"
	"net"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"

	"github.com/waveroom/spaces/internal/core"
	"github.com/waveroom/spaces/internal/domain"
)

// User-facing load failure messages, one per error class.
const (
	errMsgNoConnection = "no internet connection, check your network and try again"
	errMsgTimeout      = "the request timed out, try again"
	errMsgCancelled    = "the request was cancelled"
	errMsgGeneric      = "could not load rooms, try again later"
)

// cursor is the pagination bookkeeping for one listing feed.
type cursor struct {
	currentPage     int
	hasMoreData     bool
	loadedPages     map[int]bool
	lastViewedIndex int
	lastViewedPage  int
}

func newCursor() cursor {
	return cursor{hasMoreData: true, loadedPages: make(map[int]bool)}
}

// Refresh resets the cursor and reloads page 1. A refresh supersedes
// any in-flight page load; stale results are discarded on arrival.
func (e *Engine) Refresh(ctx context.Context) error {
	e.mu.Lock()
	e.gen++
	e.cur = newCursor()
	e.lastError = ""
	e.mu.Unlock()
	return e.loadPage(ctx, 1, true)
}

// LoadNextPage fetches currentPage+1. No-op while a load is running or
// when the listing is exhausted.
func (e *Engine) LoadNextPage(ctx context.Context) error {
	e.mu.Lock()
	if e.loadingFirst || e.loadingMore || !e.cur.hasMoreData {
		e.mu.Unlock()
		return nil
	}
	page := e.cur.currentPage + 1
	e.mu.Unlock()
	return e.loadPage(ctx, page, false)
}

// LoadPreviousPage fetches the page before the current one and prepends
// the deduplicated results. No-op at page <= 1, while loading, on an
// empty collection, or when the target page was already fetched.
func (e *Engine) LoadPreviousPage(ctx context.Context) error {
	e.mu.Lock()
	target := e.cur.currentPage - 1
	if e.cur.currentPage <= 1 || e.loadingFirst || e.loadingMore ||
		len(e.order) == 0 || e.cur.loadedPages[target] {
		e.mu.Unlock()
		return nil
	}
	e.loadingMore = true
	gen := e.gen
	e.mu.Unlock()

	batch, err := e.fetchWithRetry(ctx, target)

	e.mu.Lock()
	defer e.mu.Unlock()
	e.loadingMore = false
	if gen != e.gen {
		log.Debug().Str("module", "app.pager").Int("page", target).Msg("superseded previous-page load discarded")
		return nil
	}
	if err != nil {
		// Existing data stays intact; only the message is reported.
		e.lastError = classifyLoadError(err)
		return err
	}
	// Prepend in reverse so the batch keeps its order at the front.
	seen := make(map[domain.SpaceID]bool, len(batch))
	for i := len(batch) - 1; i >= 0; i-- {
		sp := batch[i]
		if seen[sp.ID] {
			continue
		}
		seen[sp.ID] = true
		e.mergeSpaceLocked(sp, true)
	}
	e.cur.loadedPages[target] = true
	e.lastError = ""
	log.Info().Str("module", "app.pager").Int("page", target).Int("fetched", len(batch)).Msg("previous page prepended")
	return nil
}

// SavePosition records the scroll position for later restore.
func (e *Engine) SavePosition(index int) {
	page := index/e.pageSize + 1
	e.mu.Lock()
	e.cur.lastViewedIndex = index
	e.cur.lastViewedPage = page
	e.mu.Unlock()
	if e.store != nil {
		if err := e.store.SavePosition(e.listingKey, index, page); err != nil {
			log.Warn().Str("module", "app.pager").Err(err).Msg("position not persisted")
		}
	}
}

// RestorePosition returns the last saved scroll position, falling back
// to the persisted one from a previous run.
func (e *Engine) RestorePosition() (index, page int) {
	e.mu.Lock()
	index, page = e.cur.lastViewedIndex, e.cur.lastViewedPage
	e.mu.Unlock()
	if index == 0 && page == 0 && e.store != nil {
		if i, p, ok := e.store.LoadPosition(e.listingKey); ok {
			index, page = i, p
		}
	}
	return index, page
}

// loadPage fetches one page and merges it forward. Page-1 and deeper
// loads carry separate in-flight flags so pull-to-refresh and infinite
// scroll never collide.
func (e *Engine) loadPage(ctx context.Context, page int, forceRefresh bool) error {
	first := page == 1

	e.mu.Lock()
	if first && e.loadingFirst {
		e.mu.Unlock()
		return nil
	}
	if !first && e.loadingMore {
		e.mu.Unlock()
		return nil
	}
	if e.cur.loadedPages[page] && !forceRefresh {
		e.mu.Unlock()
		return nil
	}
	if first {
		e.loadingFirst = true
	} else {
		e.loadingMore = true
	}
	gen := e.gen
	e.mu.Unlock()

	batch, err := e.fetchWithRetry(ctx, page)

	e.mu.Lock()
	defer e.mu.Unlock()
	if first {
		e.loadingFirst = false
	} else {
		e.loadingMore = false
	}
	if gen != e.gen {
		log.Debug().Str("module", "app.pager").Int("page", page).Msg("superseded page load discarded")
		return nil
	}

	if err != nil {
		e.lastError = classifyLoadError(err)
		if first {
			// Only an exhausted page-1 load clears the visible list.
			e.spaces = make(map[domain.SpaceID]*domain.Space)
			e.order = nil
		}
		log.Warn().Str("module", "app.pager").Err(err).Int("page", page).Str("message", e.lastError).Msg("page load failed")
		return err
	}

	if first && forceRefresh {
		// Fresh page 1 replaces the listing; known spaces keep their
		// realtime queue and speaker state via the merge.
		e.order = nil
		kept := make(map[domain.SpaceID]*domain.Space, len(batch))
		for _, sp := range batch {
			if cur, ok := e.spaces[sp.ID]; ok {
				kept[sp.ID] = cur
			}
		}
		e.spaces = kept
	}

	// Deduplicate within the batch and against what is already held.
	seen := make(map[domain.SpaceID]bool, len(batch))
	for _, sp := range batch {
		if seen[sp.ID] {
			continue
		}
		seen[sp.ID] = true
		e.mergeSpaceLocked(sp, false)
	}

	e.cur.loadedPages[page] = true
	e.cur.hasMoreData = len(batch) == e.pageSize
	if page > e.cur.currentPage || (first && forceRefresh) {
		e.cur.currentPage = page
	}
	e.lastError = ""
	log.Info().Str("module", "app.pager").Int("page", page).Int("fetched", len(batch)).Bool("has_more", e.cur.hasMoreData).Msg("page loaded")
	return nil
}

// fetchWithRetry wraps the listing call in bounded exponential backoff:
// three attempts, 2^n second spacing, no jitter.
func (e *Engine) fetchWithRetry(ctx context.Context, page int) ([]domain.Space, error) {
	var batch []domain.Space
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = e.retryInterval
	bo.Multiplier = 2
	bo.RandomizationFactor = 0
	bo.MaxInterval = 8 * e.retryInterval

	attempt := 0
	op := func() error {
		attempt++
		var err error
		batch, err = e.listing.ListRooms(ctx, page, e.pageSize)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return backoff.Permanent(err)
			}
			log.Warn().Str("module", "app.pager").Err(err).Int("page", page).Int("attempt", attempt).Msg("listing fetch failed")
		}
		return err
	}
	err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(bo, 2), ctx))
	if err != nil {
		return nil, err
	}
	return batch, nil
}

// classifyLoadError maps a fetch failure to its user-facing message:
// no-connectivity, timeout, cancelled or generic.
func classifyLoadError(err error) string {
	switch {
	case errors.Is(err, context.Canceled):
		return errMsgCancelled
	case errors.Is(err, context.DeadlineExceeded) || core.IsTimeout(err):
		return errMsgTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return errMsgTimeout
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return errMsgNoConnection
	}
	var apiErr *core.APIError
	if errors.As(err, &apiErr) && apiErr.Kind == core.APINetwork {
		return errMsgNoConnection
	}
	return errMsgGeneric
}
