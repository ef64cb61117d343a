package session

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
)

// Backend is the story service as seen by the controller.
type Backend interface {
	// Call performs a unary JSON request and decodes the response into out.
	Call(ctx context.Context, method, path string, payload, out any) error
	// OpenTextStream opens a free-text narration stream.
	OpenTextStream(ctx context.Context, method, path string, payload any) (TextStream, error)
	// OpenRecordStream opens a stream of framed {writer,text,turn} records.
	OpenRecordStream(ctx context.Context, method, path string, payload any) (RecordStream, error)
}

// TextStream yields prose fragments in delivery order. Next returns io.EOF
// once the transport closes; a stream cannot be restarted.
type TextStream interface {
	Next(ctx context.Context) (string, error)
	Close() error
}

// RecordStream yields complete history records in delivery order.
type RecordStream interface {
	Next(ctx context.Context) (Turn, error)
	Close() error
}

// Endpoint paths of the story service.
const (
	PathSaveKey      = "/games/initialize_save_key/"
	PathRandomSetup  = "/games/random_setup/"
	PathVersion      = "/games/get_current_version/"
	PathTitle        = "/games/initialize_game_title/"
	PathCrash        = "/games/initialize_game_crash/"
	PathWakeup       = "/games/initialize_game_wakeup/"
	PathIntro        = "/games/initialize_game_intro/"
	PathLoadGameInfo = "/games/load_game_info/"
	PathLoadGame     = "/games/load_game/"
	PathMainLoop     = "/games/main_loop/"
	PathCharacters   = "/games/api/characters/"
	PathSkills       = "/games/api/skills/"
)

// Setup is what the player chooses before a new story is generated.
type Setup struct {
	Theme     string `json:"theme"`
	Timeframe string `json:"timeframe"`
	Details   string `json:"details"`
}

// GameKey identifies a freshly created game.
type GameKey struct {
	SaveKey string `json:"save_key"`
	GameID  int    `json:"game_id"`
}

// GameInfo is the persisted game metadata returned by the save-key lookup.
type GameInfo struct {
	ID        int    `json:"id"`
	Title     string `json:"title"`
	Theme     string `json:"theme"`
	Timeframe string `json:"timeframe"`
	Details   string `json:"details"`
	Turns     int    `json:"turns"`
}

type Character struct {
	ID                  int            `json:"id"`
	Name                string         `json:"name"`
	History             string         `json:"history"`
	Personality         string         `json:"personality"`
	PhysicalDescription string         `json:"physical_description"`
	Skills              map[string]int `json:"skills"`
}

type Skill struct {
	ID          int    `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type titleRequest struct {
	GameID int  `json:"game_id"`
	Dev    bool `json:"dev"`
	Setup
}

type titleResponse struct {
	Title string `json:"title"`
}

type crashRequest struct {
	GameID int  `json:"game_id"`
	Dev    bool `json:"dev"`
}

type wakeupRequest struct {
	GameID     int    `json:"game_id"`
	CrashStory string `json:"crash_story"`
	Dev        bool   `json:"dev"`
}

type introRequest struct {
	GameID int `json:"game_id"`
}

type saveKeyRequest struct {
	SaveKey string `json:"save_key"`
}

type mainLoopRequest struct {
	GameID    int    `json:"game_id"`
	History   []Turn `json:"history"`
	UserInput string `json:"user_input"`
	Turn      int    `json:"turn"`
	Dev       bool   `json:"dev"`
}

// NewGameKey asks the service to create a game and returns its identity.
func NewGameKey(ctx context.Context, b Backend) (GameKey, error) {
	var key GameKey
	err := b.Call(ctx, http.MethodPost, PathSaveKey, nil, &key)
	return key, err
}

// LookupGame resolves a save key to the persisted game metadata.
func LookupGame(ctx context.Context, b Backend, saveKey string) (GameInfo, error) {
	var info GameInfo
	err := b.Call(ctx, http.MethodPost, PathLoadGameInfo, saveKeyRequest{SaveKey: saveKey}, &info)
	return info, err
}

// RandomSetup fetches a suggested theme, timeframe and details.
func RandomSetup(ctx context.Context, b Backend) (Setup, error) {
	var s Setup
	err := b.Call(ctx, http.MethodGet, PathRandomSetup, nil, &s)
	return s, err
}

// RemoteVersion reports the service's game version.
func RemoteVersion(ctx context.Context, b Backend) (string, error) {
	var v struct {
		Version string `json:"version"`
	}
	err := b.Call(ctx, http.MethodGet, PathVersion, nil, &v)
	return v.Version, err
}

func gameQuery(path string, gameID int) string {
	q := url.Values{}
	q.Set("game_id", strconv.Itoa(gameID))
	return path + "?" + q.Encode()
}
