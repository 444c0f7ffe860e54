package leagueapi

import (
	"context"
	"fmt"
	"mime"
	"net/http"
	"net/url"
	"path"
)

// Events

func (c *Client) ListEvents(ctx context.Context, opts ListOptions) (*Page[Event], error) {
	return list[Event](ctx, c, "/events", opts)
}

func (c *Client) GetEvent(ctx context.Context, eventID string) (*Event, error) {
	return get[Event](ctx, c, eventPath(eventID))
}

func (c *Client) CreateEvent(ctx context.Context, event Event) (*Event, error) {
	return mutate[Event](ctx, c, http.MethodPost, "/events", event)
}

func (c *Client) UpdateEvent(ctx context.Context, eventID string, event Event) (*Event, error) {
	return mutate[Event](ctx, c, http.MethodPut, eventPath(eventID), event)
}

func (c *Client) DeleteEvent(ctx context.Context, eventID string) error {
	return c.do(ctx, http.MethodDelete, eventPath(eventID), nil, nil, nil)
}

// Teams

func (c *Client) ListTeams(ctx context.Context, eventID string, opts ListOptions) (*Page[Team], error) {
	return list[Team](ctx, c, eventPath(eventID, "teams"), opts)
}

func (c *Client) GetTeam(ctx context.Context, eventID, teamID string) (*Team, error) {
	return get[Team](ctx, c, eventPath(eventID, "teams", teamID))
}

func (c *Client) CreateTeam(ctx context.Context, eventID string, team Team) (*Team, error) {
	return mutate[Team](ctx, c, http.MethodPost, eventPath(eventID, "teams"), team)
}

func (c *Client) UpdateTeam(ctx context.Context, eventID, teamID string, team Team) (*Team, error) {
	return mutate[Team](ctx, c, http.MethodPut, eventPath(eventID, "teams", teamID), team)
}

func (c *Client) DeleteTeam(ctx context.Context, eventID, teamID string) error {
	return c.do(ctx, http.MethodDelete, eventPath(eventID, "teams", teamID), nil, nil, nil)
}

// Players

func (c *Client) ListPlayers(ctx context.Context, eventID string, opts ListOptions) (*Page[Player], error) {
	return list[Player](ctx, c, eventPath(eventID, "players"), opts)
}

func (c *Client) CreatePlayer(ctx context.Context, eventID string, player Player) (*Player, error) {
	return mutate[Player](ctx, c, http.MethodPost, eventPath(eventID, "players"), player)
}

func (c *Client) UpdatePlayer(ctx context.Context, eventID, playerID string, player Player) (*Player, error) {
	return mutate[Player](ctx, c, http.MethodPatch, eventPath(eventID, "players", playerID), player)
}

func (c *Client) DeletePlayer(ctx context.Context, eventID, playerID string) error {
	return c.do(ctx, http.MethodDelete, eventPath(eventID, "players", playerID), nil, nil, nil)
}

// Matches

func (c *Client) ListMatches(ctx context.Context, eventID string, opts ListOptions) (*Page[Match], error) {
	return list[Match](ctx, c, eventPath(eventID, "matches"), opts)
}

func (c *Client) GetMatch(ctx context.Context, eventID, matchID string) (*Match, error) {
	return get[Match](ctx, c, eventPath(eventID, "matches", matchID))
}

func (c *Client) CreateMatch(ctx context.Context, eventID string, match Match) (*Match, error) {
	return mutate[Match](ctx, c, http.MethodPost, eventPath(eventID, "matches"), match)
}

func (c *Client) UpdateMatch(ctx context.Context, eventID, matchID string, match Match) (*Match, error) {
	return mutate[Match](ctx, c, http.MethodPut, eventPath(eventID, "matches", matchID), match)
}

func (c *Client) DeleteMatch(ctx context.Context, eventID, matchID string) error {
	return c.do(ctx, http.MethodDelete, eventPath(eventID, "matches", matchID), nil, nil, nil)
}

// Rounds

func (c *Client) ListRounds(ctx context.Context, eventID, matchID string) (*Page[Round], error) {
	return list[Round](ctx, c, eventPath(eventID, "matches", matchID, "rounds"), ListOptions{})
}

func (c *Client) CreateRound(ctx context.Context, eventID, matchID string, round Round) (*Round, error) {
	return mutate[Round](ctx, c, http.MethodPost, eventPath(eventID, "matches", matchID, "rounds"), round)
}

func (c *Client) UpdateRound(ctx context.Context, eventID, matchID, roundID string, round Round) (*Round, error) {
	return mutate[Round](ctx, c, http.MethodPut, eventPath(eventID, "matches", matchID, "rounds", roundID), round)
}

// UpsertRound updates a round that already has an ID and creates it otherwise.
func (c *Client) UpsertRound(ctx context.Context, eventID, matchID string, round Round) (*Round, error) {
	if round.ID == "" {
		return c.CreateRound(ctx, eventID, matchID, round)
	}
	return c.UpdateRound(ctx, eventID, matchID, round.ID, round)
}

// Attendance

func (c *Client) ListAttendance(ctx context.Context, eventID, matchID string) (*Page[Attendance], error) {
	return list[Attendance](ctx, c, eventPath(eventID, "matches", matchID, "attendance"), ListOptions{})
}

// RecordAttendance replaces the attendance list of a match.
func (c *Client) RecordAttendance(ctx context.Context, eventID, matchID string, records []Attendance) error {
	return c.do(ctx, http.MethodPut, eventPath(eventID, "matches", matchID, "attendance"), nil, records, nil)
}

// Leaderboard

func (c *Client) Leaderboard(ctx context.Context, eventID string) ([]LeaderboardEntry, error) {
	var page Page[LeaderboardEntry]
	if err := c.do(ctx, http.MethodGet, eventPath(eventID, "leaderboard"), nil, nil, &page); err != nil {
		return nil, err
	}
	if page.Data == nil {
		return []LeaderboardEntry{}, nil
	}
	return page.Data, nil
}

func (c *Client) ListExtraPoints(ctx context.Context, eventID string) (*Page[ExtraPoint], error) {
	return list[ExtraPoint](ctx, c, eventPath(eventID, "leaderboard", "extra-points"), ListOptions{})
}

func (c *Client) CreateExtraPoint(ctx context.Context, eventID string, point ExtraPoint) (*ExtraPoint, error) {
	return mutate[ExtraPoint](ctx, c, http.MethodPost, eventPath(eventID, "leaderboard", "extra-points"), point)
}

func (c *Client) DeleteExtraPoint(ctx context.Context, eventID, pointID string) error {
	return c.do(ctx, http.MethodDelete, eventPath(eventID, "leaderboard", "extra-points", pointID), nil, nil, nil)
}

// ExportLeaderboard downloads the leaderboard in the given format, e.g. csv or xlsx.
func (c *Client) ExportLeaderboard(ctx context.Context, eventID, format string) (*Download, error) {
	query := url.Values{}
	if format != "" {
		query.Set("format", format)
	}
	return c.download(ctx, eventPath(eventID, "leaderboard", "export"), query)
}

func (c *Client) download(ctx context.Context, p string, query url.Values) (*Download, error) {
	req, err := c.newRequest(ctx, http.MethodGet, p, query, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "*/*")

	resp, data, err := c.send(req)
	if err != nil {
		return nil, err
	}

	download := &Download{
		Filename:    path.Base(p),
		ContentType: resp.Header.Get("Content-Type"),
		Data:        data,
	}
	if disposition := resp.Header.Get("Content-Disposition"); disposition != "" {
		if _, params, err := mime.ParseMediaType(disposition); err == nil && params["filename"] != "" {
			download.Filename = path.Base(params["filename"])
		}
	}
	if download.ContentType == "" {
		download.ContentType = "application/octet-stream"
	}
	return download, nil
}

// Profile

func (c *Client) Me(ctx context.Context) (*Me, error) {
	return get[Me](ctx, c, "/me")
}

// Roles returns the role names of the signed-in user.
func (c *Client) Roles(ctx context.Context) ([]string, error) {
	me, err := c.Me(ctx)
	if err != nil {
		return nil, fmt.Errorf("load profile: %w", err)
	}
	return me.Roles, nil
}
