package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/shamsear/ssleague-api/internal/auth"
)

const (
	serverAddress   = "http://localhost:8080"
	roundDuration   = 1 // minutes
	playersPerRound = 5
)

var teams = []string{"TEAM_ALPHA", "TEAM_BRAVO", "TEAM_CHARLIE", "TEAM_DELTA"}

var playerPool = []struct {
	Name     string
	Position string
}{
	{"J. Oblak", "GK"},
	{"V. van Dijk", "CB"},
	{"A. Davies", "LB"},
	{"T. Alexander-Arnold", "RB"},
	{"K. De Bruyne", "CMF"},
	{"J. Bellingham", "AMF"},
	{"Rodri", "DMF"},
	{"V. Junior", "LWF"},
	{"B. Saka", "RWF"},
	{"E. Haaland", "CF"},
	{"H. Kane", "CF"},
	{"L. Martinez", "CF"},
}

// init configures the logger for the simulation with pretty printing
func init() {
	output := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	}
	log.Logger = zerolog.New(output).With().Timestamp().Logger()
}

// apiClient is an authenticated HTTP client for one identity.
type apiClient struct {
	baseURL   string
	authToken string
	client    *http.Client
}

func newAPIClient(apiKey, apiSecret string) (*apiClient, error) {
	ac := &apiClient{
		baseURL: serverAddress,
		client:  &http.Client{Timeout: 10 * time.Second},
	}

	body, err := json.Marshal(map[string]string{
		"api_key":    apiKey,
		"api_secret": apiSecret,
	})
	if err != nil {
		return nil, err
	}

	resp, err := ac.client.Post(
		fmt.Sprintf("%s/api/v1/auth/token", ac.baseURL),
		"application/json",
		bytes.NewBuffer(body),
	)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, fmt.Errorf("authentication failed with status: %d", resp.StatusCode)
	}

	var result struct {
		Token string `json:"jwt_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}
	ac.authToken = result.Token
	return ac, nil
}

// do performs an authenticated request and decodes the standard envelope's
// data field into out when provided.
func (ac *apiClient) do(method, path string, payload interface{}, out interface{}) error {
	var reqBody io.Reader
	if payload != nil {
		body, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		reqBody = bytes.NewBuffer(body)
	}

	req, err := http.NewRequest(method, ac.baseURL+path, reqBody)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+ac.authToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := ac.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%s %s failed with status %d: %s", method, path, resp.StatusCode, string(respBody))
	}

	if out == nil {
		return nil
	}
	var envelope struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(respBody, &envelope); err != nil {
		return fmt.Errorf("failed to decode response: %w, body: %s", err, string(respBody))
	}
	return json.Unmarshal(envelope.Data, out)
}

func main() {
	log.Info().Msg("Starting auction simulation")

	committee, err := newAPIClient(auth.TestCommitteeKey, auth.TestCommitteeSecret)
	if err != nil {
		log.Fatal().Err(err).Msg("Committee authentication failed")
	}

	teamClients := make(map[string]*apiClient, len(teams))
	for _, team := range teams {
		client, err := newAPIClient(team, team+"-secret")
		if err != nil {
			log.Fatal().Err(err).Str("team", team).Msg("Team authentication failed")
		}
		teamClients[team] = client
	}

	// Season setup
	var season struct {
		SeasonID string `json:"season_id"`
	}
	err = committee.do("POST", "/api/v1/seasons", map[string]interface{}{
		"name":          fmt.Sprintf("Simulation %d", time.Now().Unix()),
		"dual_currency": false,
	}, &season)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create season")
	}
	log.Info().Str("season_id", season.SeasonID).Msg("Season created")

	for _, team := range teams {
		err = committee.do("POST", fmt.Sprintf("/api/v1/seasons/%s/teams", season.SeasonID), map[string]interface{}{
			"team_id":     team,
			"club_budget": "1000",
		}, nil)
		if err != nil {
			log.Fatal().Err(err).Str("team", team).Msg("Failed to register team")
		}
	}
	log.Info().Int("teams", len(teams)).Msg("Teams registered")

	players := make([]map[string]interface{}, 0, len(playerPool))
	for _, p := range playerPool {
		players = append(players, map[string]interface{}{
			"name":             p.Name,
			"position":         p.Position,
			"auction_eligible": true,
		})
	}
	var imported []struct {
		PlayerID string `json:"player_id"`
		Position string `json:"position"`
	}
	err = committee.do("POST", fmt.Sprintf("/api/v1/seasons/%s/players", season.SeasonID), map[string]interface{}{
		"players": players,
	}, &imported)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to import players")
	}
	log.Info().Int("players", len(imported)).Msg("Players imported")

	// One normal round over a random slice of the pool
	playerIDs := make([]string, 0, playersPerRound)
	for _, p := range imported[:playersPerRound] {
		playerIDs = append(playerIDs, p.PlayerID)
	}

	var round struct {
		RoundID string `json:"round_id"`
		Status  string `json:"status"`
	}
	err = committee.do("POST", "/api/v1/rounds", map[string]interface{}{
		"season_id":         season.SeasonID,
		"round_type":        "NORMAL",
		"currency":          "CLUB",
		"max_bids_per_team": 3,
		"base_price":        "10",
		"duration_minutes":  roundDuration,
		"player_ids":        playerIDs,
		"activate":          true,
	}, &round)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create round")
	}
	log.Info().Str("round_id", round.RoundID).Msg("Round active, placing sealed bids")

	// Every team bids on a random subset; amounts occasionally collide on
	// purpose to exercise the tiebreaker path.
	var wg sync.WaitGroup
	for _, team := range teams {
		wg.Add(1)
		go func(team string) {
			defer wg.Done()
			client := teamClients[team]
			targets := rand.Perm(len(playerIDs))[:3]
			for _, idx := range targets {
				amount := decimal.NewFromInt(int64(10 + rand.Intn(5)*10))
				err := client.do("POST", fmt.Sprintf("/api/v1/rounds/%s/bids", round.RoundID), map[string]interface{}{
					"player_id": playerIDs[idx],
					"amount":    amount,
				}, nil)
				if err != nil {
					log.Warn().Err(err).Str("team", team).Msg("Bid rejected")
					continue
				}
				log.Info().Str("team", team).Str("player_id", playerIDs[idx]).Msg("Sealed bid placed")
			}
		}(team)
	}
	wg.Wait()

	log.Info().Msg("Waiting for round expiry")
	time.Sleep(time.Duration(roundDuration)*time.Minute + 5*time.Second)

	// A read is enough to trigger finalization; the sweep would also get it.
	var finalized struct {
		RoundID string `json:"round_id"`
		Status  string `json:"status"`
	}
	if err := teamClients[teams[0]].do("GET", fmt.Sprintf("/api/v1/rounds/%s", round.RoundID), nil, &finalized); err != nil {
		log.Fatal().Err(err).Msg("Failed to read round after expiry")
	}
	log.Info().Str("status", finalized.Status).Msg("Round state after expiry")

	var allocations struct {
		Allocations []struct {
			TeamID   string          `json:"team_id"`
			PlayerID string          `json:"player_id"`
			Amount   decimal.Decimal `json:"amount"`
		} `json:"allocations"`
	}
	if err := teamClients[teams[0]].do("GET", fmt.Sprintf("/api/v1/rounds/%s/allocations", round.RoundID), nil, &allocations); err != nil {
		log.Fatal().Err(err).Msg("Failed to list allocations")
	}
	for _, a := range allocations.Allocations {
		log.Info().
			Str("team_id", a.TeamID).
			Str("player_id", a.PlayerID).
			Str("amount", a.Amount.String()).
			Msg("Allocation")
	}

	for _, team := range teams {
		var budgets []struct {
			Currency string          `json:"currency"`
			Balance  decimal.Decimal `json:"balance"`
		}
		if err := teamClients[team].do("GET", fmt.Sprintf("/api/v1/budgets?season_id=%s", season.SeasonID), nil, &budgets); err != nil {
			log.Warn().Err(err).Str("team", team).Msg("Failed to read budgets")
			continue
		}
		for _, b := range budgets {
			log.Info().Str("team", team).Str("currency", b.Currency).Str("balance", b.Balance.String()).Msg("Budget")
		}
	}

	log.Info().Msg("Simulation complete")
}
