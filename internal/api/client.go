// Package api implements the rooms listing HTTP client the pagination
// manager consumes.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/rs/zerolog/log"

	"github.com/waveroom/spaces/internal/core"
	"github.com/waveroom/spaces/internal/domain"
)

const hostCacheSize = 128

// Client is the rooms API client. Safe for concurrent use.
type Client struct {
	baseURL   string
	http      *http.Client
	tokens    core.TokenProvider
	hostCache *lru.Cache
	cacheTTL  time.Duration
}

var _ core.Listing = (*Client)(nil)

type cachedRoom struct {
	space   domain.Space
	fetched time.Time
}

func NewClient(baseURL string, tokens core.TokenProvider, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	cache, _ := lru.New(hostCacheSize)
	return &Client{
		baseURL:   baseURL,
		http:      &http.Client{Timeout: timeout},
		tokens:    tokens,
		hostCache: cache,
		cacheTTL:  30 * time.Second,
	}
}

// roomSnapshot is the wire shape of one room in listing responses.
type roomSnapshot struct {
	ID       int64  `json:"id"`
	Title    string `json:"title"`
	HostID   int64  `json:"host_id"`
	Speakers []struct {
		ID       int64   `json:"id"`
		Name     string  `json:"name"`
		Username string  `json:"username"`
		ImageURL string  `json:"image_url"`
		IsMuted  bool    `json:"is_muted"`
		IsOnline *bool   `json:"is_online,omitempty"`
		PeerID   *string `json:"peer_id,omitempty"`
	} `json:"speakers"`
	Queue struct {
		ID       int64 `json:"id"`
		IsClosed bool  `json:"is_closed"`
		Users    []struct {
			ID        int64   `json:"id"`
			Name      string  `json:"name"`
			Image     string  `json:"image"`
			Topic     *string `json:"topic,omitempty"`
			IsInvited bool    `json:"is_invited"`
			HasLeft   bool    `json:"has_left"`
			Position  int     `json:"position"`
		} `json:"users"`
	} `json:"queue"`
	Topics       []string  `json:"topics"`
	Categories   []int64   `json:"categories"`
	Listeners    int       `json:"listeners"`
	IsHostOnline bool      `json:"is_host_online"`
	HostLocation *string   `json:"host_location,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (r roomSnapshot) toDomain() domain.Space {
	sp := domain.Space{
		ID:           domain.SpaceID(r.ID),
		Title:        r.Title,
		HostID:       domain.UserID(r.HostID),
		Topics:       r.Topics,
		Categories:   make(map[int64]struct{}, len(r.Categories)),
		Listeners:    r.Listeners,
		IsHostOnline: r.IsHostOnline,
		HostLocation: r.HostLocation,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}
	for _, c := range r.Categories {
		sp.Categories[c] = struct{}{}
	}
	for _, s := range r.Speakers {
		sp.Speakers = append(sp.Speakers, domain.Participant{
			ID:       domain.UserID(s.ID),
			Name:     s.Name,
			Username: s.Username,
			ImageURL: s.ImageURL,
			IsMuted:  s.IsMuted,
			IsOnline: s.IsOnline,
			PeerID:   s.PeerID,
		})
	}
	sp.Queue.ID = r.Queue.ID
	sp.Queue.IsClosed = r.Queue.IsClosed
	for _, u := range r.Queue.Users {
		sp.Queue.Users = append(sp.Queue.Users, domain.QueueUser{
			ID:        domain.UserID(u.ID),
			Name:      u.Name,
			Image:     u.Image,
			Topic:     u.Topic,
			IsInvited: u.IsInvited,
			HasLeft:   u.HasLeft,
			Position:  u.Position,
		})
	}
	return sp
}

// ListRooms fetches one page of the room listing.
func (c *Client) ListRooms(ctx context.Context, page, pageSize int) ([]domain.Space, error) {
	path := fmt.Sprintf("/rooms?page=%d&page_size=%d", page, pageSize)
	body, err := c.doRequest(ctx, http.MethodGet, path)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Rooms []roomSnapshot `json:"rooms"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &core.APIError{Kind: core.APIDecode, Err: err}
	}
	out := make([]domain.Space, 0, len(resp.Rooms))
	for _, r := range resp.Rooms {
		out = append(out, r.toDomain())
	}
	return out, nil
}

// RoomByHost fetches a single room snapshot keyed by its host. Results
// are cached briefly to absorb bursts of lookups for the same host.
func (c *Client) RoomByHost(ctx context.Context, hostID domain.UserID) (*domain.Space, error) {
	if v, ok := c.hostCache.Get(hostID); ok {
		if entry, ok := v.(cachedRoom); ok && time.Since(entry.fetched) < c.cacheTTL {
			sp := entry.space
			return &sp, nil
		}
	}

	body, err := c.doRequest(ctx, http.MethodGet, fmt.Sprintf("/rooms/host/%d", hostID))
	if err != nil {
		return nil, err
	}

	var snap roomSnapshot
	if err := json.Unmarshal(body, &snap); err != nil {
		return nil, &core.APIError{Kind: core.APIDecode, Err: err}
	}
	sp := snap.toDomain()
	c.hostCache.Add(hostID, cachedRoom{space: sp, fetched: time.Now()})
	return &sp, nil
}

func (c *Client) doRequest(ctx context.Context, method, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return nil, &core.APIError{Kind: core.APIUnknown, Err: err}
	}
	req.Header.Set("Accept", "application/json")

	// Fail closed: no token means the request goes out unauthenticated
	// and the server answers 401.
	if token, ok := c.tokens.Token(); ok {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		return nil, &core.APIError{Kind: core.APINetwork, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &core.APIError{Kind: core.APINetwork, Err: err}
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, &core.APIError{Kind: core.APIUnauthorized, Status: resp.StatusCode}
	case resp.StatusCode >= 400:
		var errResp struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal(body, &errResp)
		log.Debug().Str("module", "api.client").Int("status", resp.StatusCode).Str("error", errResp.Error).Msg("request failed")
		return nil, &core.APIError{Kind: core.APIUnknown, Status: resp.StatusCode, Err: fmt.Errorf("%s", errResp.Error)}
	}
	return body, nil
}
