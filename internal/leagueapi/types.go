package leagueapi

import "time"

type Event struct {
	ID        string     `json:"id,omitempty"`
	Name      string     `json:"name"`
	Sport     string     `json:"sport,omitempty"`
	Location  string     `json:"location,omitempty"`
	Status    string     `json:"status,omitempty"`
	StartDate *time.Time `json:"startDate,omitempty"`
	EndDate   *time.Time `json:"endDate,omitempty"`
}

type Team struct {
	ID        string `json:"id,omitempty"`
	EventID   string `json:"eventId,omitempty"`
	Name      string `json:"name"`
	CaptainID string `json:"captainId,omitempty"`
	Color     string `json:"color,omitempty"`
}

type Player struct {
	ID        string `json:"id,omitempty"`
	TeamID    string `json:"teamId,omitempty"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Email     string `json:"email,omitempty"`
	Phone     string `json:"phone,omitempty"`
	Number    *int   `json:"number,omitempty"`
}

type Match struct {
	ID          string     `json:"id,omitempty"`
	EventID     string     `json:"eventId,omitempty"`
	HomeTeamID  string     `json:"homeTeamId"`
	AwayTeamID  string     `json:"awayTeamId"`
	Venue       string     `json:"venue,omitempty"`
	Status      string     `json:"status,omitempty"`
	Notes       string     `json:"notes,omitempty"`
	ScheduledAt *time.Time `json:"scheduledAt,omitempty"`
}

// Round is one scored round of a match.
type Round struct {
	ID        string `json:"id,omitempty"`
	MatchID   string `json:"matchId,omitempty"`
	Number    int    `json:"number"`
	HomeScore int    `json:"homeScore"`
	AwayScore int    `json:"awayScore"`
	Notes     string `json:"notes,omitempty"`
}

type Attendance struct {
	ID       string `json:"id,omitempty"`
	MatchID  string `json:"matchId,omitempty"`
	PlayerID string `json:"playerId"`
	Present  bool   `json:"present"`
}

type LeaderboardEntry struct {
	TeamID      string `json:"teamId"`
	TeamName    string `json:"teamName"`
	Played      int    `json:"played"`
	Won         int    `json:"won"`
	Drawn       int    `json:"drawn"`
	Lost        int    `json:"lost"`
	Points      int    `json:"points"`
	ExtraPoints int    `json:"extraPoints"`
	TotalPoints int    `json:"totalPoints"`
}

// ExtraPoint is a manual leaderboard adjustment for a team.
type ExtraPoint struct {
	ID        string     `json:"id,omitempty"`
	TeamID    string     `json:"teamId"`
	Points    int        `json:"points"`
	Reason    string     `json:"reason,omitempty"`
	CreatedAt *time.Time `json:"createdAt,omitempty"`
}

// Me is the profile of the signed-in user as the backend sees it.
type Me struct {
	ID    string   `json:"id"`
	Email string   `json:"email"`
	Name  string   `json:"name,omitempty"`
	Roles []string `json:"roles"`
}

// Download is a file produced by an export endpoint.
type Download struct {
	Filename    string
	ContentType string
	Data        []byte
}
