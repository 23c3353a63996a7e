package osuconcierge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/lmittmann/tint"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

var (
	ErrOsuNotFound = errors.New("osu! resource not found")
	ErrRateLimited = errors.New("rate limited by upstream")
)

// UpstreamError is a non-success response from an upstream API
type UpstreamError struct {
	Service    string
	StatusCode int
	Body       string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s returned %d: %s", e.Service, e.StatusCode, truncate(e.Body, 200))
}

// GameMode is an osu! ruleset
type GameMode string

const (
	GameModeOsu   GameMode = "osu"
	GameModeTaiko GameMode = "taiko"
	GameModeCatch GameMode = "fruits"
	GameModeMania GameMode = "mania"
)

func parseGameMode(s string) GameMode {
	switch GameMode(strings.ToLower(s)) {
	case GameModeTaiko:
		return GameModeTaiko
	case GameModeCatch, "catch", "ctb":
		return GameModeCatch
	case GameModeMania:
		return GameModeMania
	default:
		return GameModeOsu
	}
}

type OsuUser struct {
	ID               int               `json:"id"`
	Username         string            `json:"username"`
	CountryCode      string            `json:"country_code"`
	AvatarURL        string            `json:"avatar_url"`
	Statistics       OsuUserStatistics `json:"statistics"`
	UserAchievements []UserAchievement `json:"user_achievements"`
	RankHistory      *RankHistory      `json:"rank_history"`
}

func (u OsuUser) ProfileURL() string {
	return fmt.Sprintf("%s/users/%d", DefaultOsuBaseURL, u.ID)
}

func (u OsuUser) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int("id", u.ID),
		slog.String("username", u.Username),
	)
}

type OsuUserStatistics struct {
	PP          float64 `json:"pp"`
	GlobalRank  *int    `json:"global_rank"`
	PlayCount   int     `json:"play_count"`
	HitAccuracy float64 `json:"hit_accuracy"`
}

type UserAchievement struct {
	AchievementID int       `json:"achievement_id"`
	AchievedAt    time.Time `json:"achieved_at"`
}

type RankHistory struct {
	Mode string `json:"mode"`
	Data []int  `json:"data"`
}

type OsuScore struct {
	ID         int64              `json:"id"`
	PP         *float64           `json:"pp"`
	Accuracy   float64            `json:"accuracy"`
	MaxCombo   int                `json:"max_combo"`
	Rank       string             `json:"rank"`
	Mods       []string           `json:"mods"`
	Statistics OsuScoreStatistics `json:"statistics"`
	Beatmap    OsuBeatmap         `json:"beatmap"`
	Beatmapset OsuBeatmapset      `json:"beatmapset"`
	CreatedAt  time.Time          `json:"created_at"`
}

type OsuScoreStatistics struct {
	CountMiss int `json:"count_miss"`
}

type OsuBeatmap struct {
	ID               int     `json:"id"`
	Version          string  `json:"version"`
	DifficultyRating float64 `json:"difficulty_rating"`
}

type OsuBeatmapset struct {
	ID     int    `json:"id"`
	Title  string `json:"title"`
	Artist string `json:"artist"`
}

// CoverURL is the mapset's cover image
func (b OsuBeatmapset) CoverURL() string {
	return fmt.Sprintf("https://assets.ppy.sh/beatmaps/%d/covers/cover.jpg", b.ID)
}

// Medal is an osu! medal, as listed by osekai
type Medal struct {
	ID          int     `json:"medalid"`
	Name        string  `json:"name"`
	Grouping    string  `json:"grouping"`
	Description string  `json:"description"`
	Link        string  `json:"link"`
	Rarity      float64 `json:"rarity"`
}

// osekaiNumber decodes numbers osekai sends either bare or quoted
type osekaiNumber float64

func (n *osekaiNumber) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*n = 0
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("invalid osekai number %q: %w", s, err)
	}
	*n = osekaiNumber(f)
	return nil
}

// OsekaiRankingEntry is a user's position on osekai's medal count
// ranking
type OsekaiRankingEntry struct {
	Rank        osekaiNumber `json:"rank"`
	CountryCode string       `json:"countrycode"`
	Country     string       `json:"country"`
	Username    string       `json:"username"`
	MedalCount  osekaiNumber `json:"medalCount"`
	RarestMedal string       `json:"rarest_medal"`
	UserID      osekaiNumber `json:"userid"`
	Completion  osekaiNumber `json:"completion"`
}

// rankingResponse is a page of the osu! performance ranking
type rankingResponse struct {
	Ranking []struct {
		PP         float64 `json:"pp"`
		GlobalRank *int    `json:"global_rank"`
		PlayCount  int     `json:"play_count"`
		User       OsuUser `json:"user"`
	} `json:"ranking"`
}

// OsuAPI is the subset of the osu! client used by commands
type OsuAPI interface {
	User(ctx context.Context, name string, mode GameMode) (*OsuUser, error)
	UserByID(ctx context.Context, id int, mode GameMode) (*OsuUser, error)
	TopScores(ctx context.Context, userID int, mode GameMode) ([]OsuScore, error)
	PerformanceRanking(ctx context.Context, mode GameMode, page int) ([]OsuUser, error)
	Medals(ctx context.Context) ([]Medal, error)
	MedalCountRanking(ctx context.Context) ([]OsekaiRankingEntry, error)
	MissAnalyzerCheck(ctx context.Context, guildID string, scoreID int64) (bool, error)
}

// OsuClient calls the osu! v2 API and osekai. Requests are rate limited,
// responses are cached, and concurrent identical requests are
// de-duplicated.
type OsuClient struct {
	cfg        OsuConfig
	httpClient *http.Client
	limiter    *rate.Limiter
	cache      Cache
	group      singleflight.Group
	metrics    *Metrics
	logger     *slog.Logger

	// unauthenticated, for osekai and the miss analyzer
	plainClient *http.Client
}

func NewOsuClient(
	ctx context.Context,
	cfg OsuConfig,
	cache Cache,
	metrics *Metrics,
	baseClient *http.Client,
	logger *slog.Logger,
) *OsuClient {
	if logger == nil {
		logger = slog.Default()
	}
	if cache == nil {
		cache = noopCache{}
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = DefaultOsuRequestTimeout
	}
	plainClient := http.DefaultClient
	if baseClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, baseClient)
		plainClient = baseClient
	}
	creds := clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     strings.TrimRight(cfg.BaseURL, "/") + "/oauth/token",
		Scopes:       []string{"public"},
		AuthStyle:    oauth2.AuthStyleInParams,
	}
	httpClient := creds.Client(ctx)
	httpClient.Timeout = timeout

	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = DefaultOsuRequestsPerSecond
	}
	return &OsuClient{
		cfg:         cfg,
		httpClient:  httpClient,
		plainClient: plainClient,
		limiter:     rate.NewLimiter(rate.Limit(rps), max(1, int(rps))),
		cache:       cache,
		metrics:     metrics,
		logger:      logger.With(loggerNameKey, "osu"),
	}
}

func (c *OsuClient) apiURL(path string, query url.Values) string {
	u := strings.TrimRight(c.cfg.BaseURL, "/") + "/api/v2" + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}

// getJSON sends a rate limited GET request, decoding the response into dst.
// A 429 or 5xx response is retried once.
func (c *OsuClient) getJSON(
	ctx context.Context,
	client *http.Client,
	endpoint string,
	rawURL string,
	dst any,
) error {
	return c.requestJSON(ctx, client, endpoint, http.MethodGet, rawURL, nil, dst)
}

// requestJSON is getJSON for any method. A non-nil form is sent
// url-encoded as the request body.
func (c *OsuClient) requestJSON(
	ctx context.Context,
	client *http.Client,
	endpoint string,
	method string,
	rawURL string,
	form url.Values,
	dst any,
) error {
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
		lastErr = c.doRequest(ctx, client, endpoint, method, rawURL, form, dst)
		if lastErr == nil {
			return nil
		}
		var upstream *UpstreamError
		retryable := errors.Is(lastErr, ErrRateLimited) ||
			(errors.As(lastErr, &upstream) && upstream.StatusCode >= 500)
		if !retryable {
			return lastErr
		}
		c.logger.WarnContext(ctx, "retrying osu! request", "endpoint", endpoint, tint.Err(lastErr))
	}
	return lastErr
}

func (c *OsuClient) doRequest(
	ctx context.Context,
	client *http.Client,
	endpoint string,
	method string,
	rawURL string,
	form url.Values,
	dst any,
) error {
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("x-api-version", "20240529")
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		c.metrics.observeOsuRequest(endpoint, "error", time.Since(start).Seconds())
		return fmt.Errorf("error requesting %s: %w", endpoint, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	c.metrics.observeOsuRequest(endpoint, strconv.Itoa(resp.StatusCode), time.Since(start).Seconds())

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrOsuNotFound
	case resp.StatusCode == http.StatusTooManyRequests:
		return ErrRateLimited
	case resp.StatusCode >= 300:
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return &UpstreamError{Service: endpoint, StatusCode: resp.StatusCode, Body: string(b)}
	}
	if err = json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return fmt.Errorf("error decoding %s response: %w", endpoint, err)
	}
	return nil
}

// User looks up a user by username
func (c *OsuClient) User(ctx context.Context, name string, mode GameMode) (*OsuUser, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrOsuNotFound
	}
	key := fmt.Sprintf("osu:user:name:%s:%s", strings.ToLower(name), mode)
	return cachedFetch(
		ctx, c.cache, &c.group, c.logger, key, c.cfg.CacheTTL,
		func(ctx context.Context) (*OsuUser, error) {
			var u OsuUser
			err := c.getJSON(
				ctx, c.httpClient, "users",
				c.apiURL(
					fmt.Sprintf("/users/%s/%s", url.PathEscape(name), mode),
					url.Values{"key": {"username"}},
				),
				&u,
			)
			if err != nil {
				return nil, err
			}
			return &u, nil
		},
	)
}

// UserByID looks up a user by ID
func (c *OsuClient) UserByID(ctx context.Context, id int, mode GameMode) (*OsuUser, error) {
	key := fmt.Sprintf("osu:user:id:%d:%s", id, mode)
	return cachedFetch(
		ctx, c.cache, &c.group, c.logger, key, c.cfg.CacheTTL,
		func(ctx context.Context) (*OsuUser, error) {
			var u OsuUser
			err := c.getJSON(
				ctx, c.httpClient, "users",
				c.apiURL(fmt.Sprintf("/users/%d/%s", id, mode), url.Values{"key": {"id"}}),
				&u,
			)
			if err != nil {
				return nil, err
			}
			return &u, nil
		},
	)
}

// TopScores returns the user's top 100 scores
func (c *OsuClient) TopScores(ctx context.Context, userID int, mode GameMode) ([]OsuScore, error) {
	key := fmt.Sprintf("osu:scores:best:%d:%s", userID, mode)
	return cachedFetch(
		ctx, c.cache, &c.group, c.logger, key, c.cfg.CacheTTL,
		func(ctx context.Context) ([]OsuScore, error) {
			var scores []OsuScore
			err := c.getJSON(
				ctx, c.httpClient, "scores_best",
				c.apiURL(
					fmt.Sprintf("/users/%d/scores/best", userID),
					url.Values{"mode": {string(mode)}, "limit": {"100"}},
				),
				&scores,
			)
			return scores, err
		},
	)
}

// PerformanceRanking returns a page of the global pp ranking, 50 users
// per page. Pages start at 1.
func (c *OsuClient) PerformanceRanking(ctx context.Context, mode GameMode, page int) ([]OsuUser, error) {
	page = max(1, page)
	key := fmt.Sprintf("osu:rankings:performance:%s:%d", mode, page)
	return cachedFetch(
		ctx, c.cache, &c.group, c.logger, key, c.cfg.CacheTTL,
		func(ctx context.Context) ([]OsuUser, error) {
			var resp rankingResponse
			err := c.getJSON(
				ctx, c.httpClient, "rankings",
				c.apiURL(
					fmt.Sprintf("/rankings/%s/performance", mode),
					url.Values{"page": {strconv.Itoa(page)}},
				),
				&resp,
			)
			if err != nil {
				return nil, err
			}
			users := make([]OsuUser, 0, len(resp.Ranking))
			for _, r := range resp.Ranking {
				u := r.User
				u.Statistics = OsuUserStatistics{PP: r.PP, GlobalRank: r.GlobalRank, PlayCount: r.PlayCount}
				users = append(users, u)
			}
			return users, nil
		},
	)
}

// MedalCountRanking returns osekai's ranking of users by medal count
func (c *OsuClient) MedalCountRanking(ctx context.Context) ([]OsekaiRankingEntry, error) {
	return cachedFetch(
		ctx, c.cache, &c.group, c.logger, "osekai:ranking:medal_count", c.cfg.MedalsCacheTTL,
		func(ctx context.Context) ([]OsekaiRankingEntry, error) {
			var ranking []OsekaiRankingEntry
			err := c.requestJSON(
				ctx, c.plainClient, "osekai_ranking", http.MethodPost,
				strings.TrimRight(c.cfg.OsekaiBaseURL, "/")+"/rankings/api/api.php",
				url.Values{"App": {"Users"}},
				&ranking,
			)
			return ranking, err
		},
	)
}

// Medals returns every medal listed by osekai
func (c *OsuClient) Medals(ctx context.Context) ([]Medal, error) {
	return cachedFetch(
		ctx, c.cache, &c.group, c.logger, "osekai:medals", c.cfg.MedalsCacheTTL,
		func(ctx context.Context) ([]Medal, error) {
			var medals []Medal
			err := c.getJSON(
				ctx, c.plainClient, "osekai_medals",
				strings.TrimRight(c.cfg.OsekaiBaseURL, "/")+"/medals/api/medals.php",
				&medals,
			)
			return medals, err
		},
	)
}

// MissAnalyzerCheck asks the miss analyzer service whether it wants a
// button for the given score. Returns false if no service is configured.
func (c *OsuClient) MissAnalyzerCheck(ctx context.Context, guildID string, scoreID int64) (bool, error) {
	if c.cfg.MissAnalyzerURL == "" {
		return false, nil
	}
	var rv struct {
		WantsButton bool `json:"wants_button"`
	}
	q := url.Values{
		"guild_id": {guildID},
		"score_id": {strconv.FormatInt(scoreID, 10)},
	}
	err := c.doRequest(
		ctx, c.plainClient, "miss_analyzer", http.MethodGet,
		strings.TrimRight(c.cfg.MissAnalyzerURL, "/")+"/score?"+q.Encode(),
		nil, &rv,
	)
	return rv.WantsButton, err
}
