package pbp

// Game is one completed contest as returned by the possession provider.
type Game struct {
	GameID      string       `json:"game_id"`
	Season      string       `json:"season"`
	HomeTeamID  int          `json:"home_team_id"`
	AwayTeamID  int          `json:"away_team_id"`
	Possessions []Possession `json:"possessions"`
}

// HasTeam reports whether teamID is one of the two teams in the game.
// When the provider omits team ids any positive id is accepted.
func (g *Game) HasTeam(teamID int) bool {
	if g.HomeTeamID == 0 && g.AwayTeamID == 0 {
		return teamID > 0
	}
	return teamID == g.HomeTeamID || teamID == g.AwayTeamID
}

// Possession is one team's offensive sequence.
type Possession struct {
	Number        int     `json:"number"`
	OffenseTeamID int     `json:"offense_team_id"`
	Events        []Event `json:"events"`
}

// Event is a single play-by-play event with the on-court state attached.
type Event struct {
	EventNum         int           `json:"event_num"`
	Description      string        `json:"description,omitempty"`
	PossessionEnding bool          `json:"possession_ending"`
	OffenseTeamID    int           `json:"offense_team_id"`
	Lineups          map[int][]int `json:"lineups"`
	Score            map[int]int   `json:"score"`
}

// OffenseTeam returns the team the provider credits with the ball at this event.
// Excess timeout events come back with a team id that belongs to neither side.
func (e Event) OffenseTeam() int {
	return e.OffenseTeamID
}

// SeasonGame is an entry in a season schedule listing.
type SeasonGame struct {
	GameID string `json:"game_id"`
	Status string `json:"status"`
}

// StatusFinal marks a completed game in schedule listings.
const StatusFinal = "final"
