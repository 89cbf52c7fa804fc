package api

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

const (
	friendsPath    = "/friends/"
	searchPath     = "/search/"
	isFriendPath   = "/friends/is-friend/"
	addFriendPath  = "/add/friend/"
	defaultPerPage = 10
)

// FriendPager walks a paginated user listing. The listing is exhausted once
// a page comes back empty. Each pager owns its own position, so two listings
// never share counters.
type FriendPager struct {
	client *Client
	path   string
	query  string
	limit  int

	page      int
	exhausted bool
}

// Friends returns a pager over the current user's friends.
func (c *Client) Friends(limit int) *FriendPager {
	if limit <= 0 {
		limit = defaultPerPage
	}

	return &FriendPager{client: c, path: friendsPath, limit: limit}
}

// Search returns a pager over users matching query.
func (c *Client) Search(query string) *FriendPager {
	return &FriendPager{client: c, path: searchPath, query: strings.TrimSpace(query)}
}

// Page returns the last page fetched, zero before the first call to Next.
func (p *FriendPager) Page() int {
	return p.page
}

// HasMore reports whether Next may return further users.
func (p *FriendPager) HasMore() bool {
	return !p.exhausted
}

// Next fetches the following page. It returns nil without a request once the
// listing is exhausted.
func (p *FriendPager) Next(ctx context.Context) ([]User, error) {
	if p.exhausted {
		return nil, nil
	}

	page := p.page + 1
	query := url.Values{}
	query.Set("pagination", "true")
	query.Set("page", strconv.Itoa(page))
	if p.limit > 0 {
		query.Set("limit", strconv.Itoa(p.limit))
	}
	if p.path == searchPath {
		query.Set("query", p.query)
	}

	var users []User
	if err := p.client.getJSON(ctx, p.path, query, &users); err != nil {
		return nil, fmt.Errorf("fetch page %d: %w", page, err)
	}

	p.page = page
	if len(users) == 0 {
		p.exhausted = true
		return nil, nil
	}

	return users, nil
}

// IsFriend reports whether userID is already a friend of the current user.
func (c *Client) IsFriend(ctx context.Context, userID int64) (bool, error) {
	var payload struct {
		IsFriend bool `json:"is_friend"`
	}
	if err := c.getJSON(ctx, isFriendPath+strconv.FormatInt(userID, 10), nil, &payload); err != nil {
		return false, fmt.Errorf("check friendship: %w", err)
	}

	return payload.IsFriend, nil
}

// AddFriend adds userID to the current user's friends.
func (c *Client) AddFriend(ctx context.Context, userID int64) error {
	path := addFriendPath + strconv.FormatInt(userID, 10)
	resp, err := c.do(ctx, http.MethodPost, path, nil)
	if err != nil {
		return fmt.Errorf("add friend: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("add friend: %w", &StatusError{Path: path, StatusCode: resp.StatusCode})
	}

	return nil
}
