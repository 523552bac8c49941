// Package provider talks to the upstream game platform: it starts game
// sessions and lists the game catalog, caching the catalog for an hour.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/gamewallet/pkg/wallet"
	"github.com/patrickmn/go-cache"
)

const (
	authHeaderName = "allingame-key"

	gamesCacheKey = "games"
	gamesCacheTTL = time.Hour

	defaultRequestTimeout = 10 * time.Second

	clientTypeMobile  = "mobile"
	clientTypeDesktop = "desktop"
)

// UpstreamError carries the status and message of a failed upstream call.
type UpstreamError struct {
	StatusCode int
	Message    string
}

func (upstreamError *UpstreamError) Error() string {
	return fmt.Sprintf("upstream error: status %d: %s", upstreamError.StatusCode, upstreamError.Message)
}

// SessionRequest describes the session a player wants to start.
type SessionRequest struct {
	Game       string
	Currency   string
	Locale     string
	DepositURL string
	ReturnURL  string
	UserID     string

	// Derived from the originating HTTP request.
	ClientIP  string
	UserAgent string
}

// SessionResponse is the upstream session answer.
type SessionResponse struct {
	URL string `json:"url"`
}

// Client calls the upstream platform. Safe for concurrent use.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	gamesCache *cache.Cache
}

// NewClient returns a Client for the given upstream base URL and API key.
func NewClient(baseURL string, apiKey string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: defaultRequestTimeout},
		gamesCache: cache.New(gamesCacheTTL, 2*gamesCacheTTL),
	}
}

type sessionUserPayload struct {
	UserID       string `json:"user_id"`
	Nickname     string `json:"nickname"`
	Firstname    string `json:"firstname"`
	Lastname     string `json:"lastname"`
	Country      string `json:"country"`
	City         string `json:"city"`
	DateOfBirth  string `json:"date_of_birth"`
	RegisteredAt string `json:"registred_at"`
	Gender       string `json:"gender"`
}

type sessionURLsPayload struct {
	ReturnURL  string `json:"return_url"`
	DepositURL string `json:"deposit_url"`
}

type sessionPayload struct {
	GameID     int64              `json:"game_id"`
	Locale     string             `json:"locale"`
	ClientType string             `json:"client_type"`
	IP         string             `json:"ip"`
	Currency   string             `json:"currency"`
	RTP        int                `json:"rtp"`
	URL        sessionURLsPayload `json:"url"`
	User       sessionUserPayload `json:"user"`
}

// StartSession opens a game session upstream for the given user.
func (client *Client) StartSession(ctx context.Context, request SessionRequest, user wallet.User) (SessionResponse, error) {
	gameID, err := strconv.ParseInt(request.Game, 10, 64)
	if err != nil {
		return SessionResponse{}, fmt.Errorf("parse game id %q: %w", request.Game, err)
	}

	payload := sessionPayload{
		GameID:     gameID,
		Locale:     request.Locale,
		ClientType: detectClientType(request.UserAgent),
		IP:         request.ClientIP,
		Currency:   request.Currency,
		RTP:        90,
		URL: sessionURLsPayload{
			ReturnURL:  request.ReturnURL,
			DepositURL: request.DepositURL,
		},
		User: sessionUserPayload{
			UserID:       user.UserID,
			Nickname:     user.Nickname,
			Firstname:    user.Firstname,
			Lastname:     user.Lastname,
			Country:      user.Country,
			City:         user.City,
			DateOfBirth:  user.DateOfBirth,
			RegisteredAt: user.RegisteredAtUTC,
			Gender:       user.Gender,
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return SessionResponse{}, fmt.Errorf("encode session payload: %w", err)
	}

	httpRequest, err := http.NewRequestWithContext(ctx, http.MethodPost, client.baseURL+"/session", bytes.NewReader(body))
	if err != nil {
		return SessionResponse{}, fmt.Errorf("build session request: %w", err)
	}
	httpRequest.Header.Set("Content-Type", "application/json")
	httpRequest.Header.Set(authHeaderName, client.apiKey)

	httpResponse, err := client.httpClient.Do(httpRequest)
	if err != nil {
		return SessionResponse{}, fmt.Errorf("call upstream session: %w", err)
	}
	defer func() { _ = httpResponse.Body.Close() }()

	if httpResponse.StatusCode != http.StatusOK && httpResponse.StatusCode != http.StatusCreated {
		return SessionResponse{}, upstreamFailure(httpResponse)
	}

	var session SessionResponse
	if err := json.NewDecoder(httpResponse.Body).Decode(&session); err != nil {
		return SessionResponse{}, fmt.Errorf("decode session response: %w", err)
	}
	return session, nil
}

// ListGames returns the upstream game catalog, served from cache when fresh.
func (client *Client) ListGames(ctx context.Context) (json.RawMessage, error) {
	if cached, found := client.gamesCache.Get(gamesCacheKey); found {
		return cached.(json.RawMessage), nil
	}

	httpRequest, err := http.NewRequestWithContext(ctx, http.MethodGet, client.baseURL+"/games", nil)
	if err != nil {
		return nil, fmt.Errorf("build games request: %w", err)
	}
	httpRequest.Header.Set(authHeaderName, client.apiKey)

	httpResponse, err := client.httpClient.Do(httpRequest)
	if err != nil {
		return nil, fmt.Errorf("call upstream games: %w", err)
	}
	defer func() { _ = httpResponse.Body.Close() }()

	if httpResponse.StatusCode != http.StatusOK {
		return nil, upstreamFailure(httpResponse)
	}

	body, err := io.ReadAll(httpResponse.Body)
	if err != nil {
		return nil, fmt.Errorf("read games response: %w", err)
	}
	catalog := json.RawMessage(body)
	client.gamesCache.Set(gamesCacheKey, catalog, cache.DefaultExpiration)
	return catalog, nil
}

func detectClientType(userAgent string) string {
	lowered := strings.ToLower(userAgent)
	for _, marker := range []string{"mobile", "android", "iphone", "ipad"} {
		if strings.Contains(lowered, marker) {
			return clientTypeMobile
		}
	}
	return clientTypeDesktop
}

func upstreamFailure(httpResponse *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(httpResponse.Body, 4096))
	message := strings.TrimSpace(string(body))
	if message == "" {
		message = httpResponse.Status
	}
	var parsed struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Message != "" {
		message = parsed.Message
	}
	return &UpstreamError{StatusCode: httpResponse.StatusCode, Message: message}
}
