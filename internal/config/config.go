package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Port               string
	Env                string
	StoreDriver        string
	DatabasePath       string
	DatabaseURL        string
	RedisAddr          string
	RedisPassword      string
	RedisDB            int
	RedisChannel       string
	RoomsFile          string
	AnnounceEnabled    bool
	AnnounceChime      string
	AnnounceTemplate   string
	AnnounceLanguage   string
	AllowedOrigins     []string
	RateLimitPerMinute int
	RateLimitBurst     int
	NotifyBuffer       int
	NotifyTimeout      time.Duration
	HistoryLimit       int
}

// Load reads the configuration from the environment. Values in a .env file
// in the working directory are used when the variable is not already set.
func Load() Config {
	_ = godotenv.Load()

	port := os.Getenv("PORT")
	if port == "" {
		port = "3001"
	}

	return Config{
		Port:               port,
		Env:                readString("APP_ENV", "production"),
		StoreDriver:        readString("STORE_DRIVER", "sqlite"),
		DatabasePath:       readString("DB_PATH", "queue.db"),
		DatabaseURL:        os.Getenv("DB_DSN"),
		RedisAddr:          os.Getenv("REDIS_ADDR"),
		RedisPassword:      os.Getenv("REDIS_PASSWORD"),
		RedisDB:            readInt("REDIS_DB", 0),
		RedisChannel:       os.Getenv("REDIS_CHANNEL"),
		RoomsFile:          os.Getenv("ROOMS_FILE"),
		AnnounceEnabled:    readBool("ANNOUNCE_ENABLED", false),
		AnnounceChime:      os.Getenv("ANNOUNCE_CHIME"),
		AnnounceTemplate:   os.Getenv("ANNOUNCE_TEMPLATE"),
		AnnounceLanguage:   readString("ANNOUNCE_LANGUAGE", "fr-FR"),
		AllowedOrigins:     readList("ALLOWED_ORIGINS", []string{"*"}),
		RateLimitPerMinute: readInt("RATE_LIMIT_PER_MIN", 600),
		RateLimitBurst:     readInt("RATE_LIMIT_BURST", 60),
		NotifyBuffer:       readInt("NOTIFY_BUFFER", 64),
		NotifyTimeout:      readDurationSeconds("NOTIFY_TIMEOUT_SECONDS", 5),
		HistoryLimit:       readInt("HISTORY_DEFAULT_LIMIT", 3),
	}
}

type Room struct {
	ID    int    `yaml:"id"`
	Label string `yaml:"label"`
	Word  string `yaml:"word"`
}

type RoomsFile struct {
	Rooms []Room `yaml:"rooms"`
}

// LoadRooms reads the optional rooms file. An empty path yields no rooms.
func LoadRooms(path string) ([]Room, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rooms file: %w", err)
	}
	var file RoomsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse rooms file: %w", err)
	}
	seen := make(map[int]bool, len(file.Rooms))
	for _, room := range file.Rooms {
		if room.ID <= 0 {
			return nil, fmt.Errorf("rooms file: room id must be positive, got %d", room.ID)
		}
		if seen[room.ID] {
			return nil, fmt.Errorf("rooms file: duplicate room %d", room.ID)
		}
		seen[room.ID] = true
	}
	return file.Rooms, nil
}

// RoomWords extracts the spoken word of each room that defines one.
func RoomWords(rooms []Room) map[int]string {
	words := make(map[int]string, len(rooms))
	for _, room := range rooms {
		if word := strings.TrimSpace(room.Word); word != "" {
			words[room.ID] = word
		}
	}
	return words
}

func readString(key, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func readList(key string, fallback []string) []string {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	var values []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			values = append(values, part)
		}
	}
	if len(values) == 0 {
		return fallback
	}
	return values
}

func readDurationSeconds(key string, fallback int) time.Duration {
	value := readInt(key, fallback)
	if value <= 0 {
		return 0
	}
	return time.Duration(value) * time.Second
}

func readInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}

func readBool(key string, fallback bool) bool {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}
	return value
}
