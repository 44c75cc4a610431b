// Package config loads relay and viewer settings from the environment with
// code defaults. Every knob has a working default so both binaries start
// with no configuration at all (the relay falls back to mock inference).
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Transport modes for talking to inference backends.
const (
	TransportJSON   = "json"   // JSON body carrying a data-URL image
	TransportBinary = "binary" // raw image bytes with an image content type
)

// Relay holds the inference relay configuration.
type Relay struct {
	Addr      string
	StaticDir string

	// Backend endpoints. An empty BaseURL forces mock mode.
	BackendBaseURL string
	FacePath       string
	SegPath        string
	TextPath       string
	TransportMode  string

	CallTimeout    time.Duration
	ConcurrencyCap int
	JitterMax      time.Duration
	MockMode       bool

	// RedisAddr enables the short-TTL result cache when non-empty.
	RedisAddr string
	CacheTTL  time.Duration
}

// Viewer holds the headless client configuration.
type Viewer struct {
	Addr     string
	RelayURL string

	SampleInterval time.Duration
	MaxInFlight    int
	TickInterval   time.Duration

	ImageFormat  string
	JPEGQuality  int
	MaxDimension int

	RunFace bool
	RunSeg  bool
	RunText bool

	// Synthetic source dimensions; a real camera is wired in through
	// framesource.Source instead.
	FrameWidth  int
	FrameHeight int

	ReconnectMin time.Duration
	ReconnectMax time.Duration
}

// RelayFromEnv builds a Relay config from environment variables.
func RelayFromEnv() Relay {
	base := getEnv("BACKEND_BASE_URL", "")
	return Relay{
		Addr:           getEnv("RELAY_ADDR", ":8080"),
		StaticDir:      getEnv("STATIC_DIR", ""),
		BackendBaseURL: base,
		FacePath:       getEnv("BACKEND_FACE_PATH", "/face"),
		SegPath:        getEnv("BACKEND_SEG_PATH", "/segment"),
		TextPath:       getEnv("BACKEND_TEXT_PATH", "/ocr"),
		TransportMode:  getEnv("BACKEND_TRANSPORT", TransportJSON),
		CallTimeout:    getEnvDuration("BACKEND_CALL_TIMEOUT", 8*time.Second),
		ConcurrencyCap: getEnvInt("CONCURRENCY_CAP", 6),
		JitterMax:      getEnvDuration("RESPONSE_JITTER_MAX", 0),
		MockMode:       getEnvBool("MOCK_MODE", base == ""),
		RedisAddr:      getEnv("REDIS_ADDR", ""),
		CacheTTL:       getEnvDuration("CACHE_TTL", 30*time.Second),
	}
}

// ViewerFromEnv builds a Viewer config from environment variables.
func ViewerFromEnv() Viewer {
	return Viewer{
		Addr:           getEnv("VIEWER_ADDR", ":8090"),
		RelayURL:       getEnv("RELAY_URL", "ws://localhost:8080/ws"),
		SampleInterval: getEnvDuration("SAMPLE_INTERVAL", 300*time.Millisecond),
		MaxInFlight:    getEnvInt("MAX_IN_FLIGHT", 2),
		TickInterval:   getEnvDuration("TICK_INTERVAL", 33*time.Millisecond),
		ImageFormat:    getEnv("IMAGE_FORMAT", "jpeg"),
		JPEGQuality:    getEnvInt("JPEG_QUALITY", 70),
		MaxDimension:   getEnvInt("MAX_DIMENSION", 640),
		RunFace:        getEnvBool("RUN_FACE", true),
		RunSeg:         getEnvBool("RUN_SEG", true),
		RunText:        getEnvBool("RUN_TEXT", false),
		FrameWidth:     getEnvInt("FRAME_WIDTH", 640),
		FrameHeight:    getEnvInt("FRAME_HEIGHT", 480),
		ReconnectMin:   getEnvDuration("RECONNECT_MIN", 500*time.Millisecond),
		ReconnectMax:   getEnvDuration("RECONNECT_MAX", 10*time.Second),
	}
}

// Validate reports the first invalid relay setting.
func (c Relay) Validate() error {
	if c.TransportMode != TransportJSON && c.TransportMode != TransportBinary {
		return fmt.Errorf("invalid BACKEND_TRANSPORT %q", c.TransportMode)
	}
	if c.ConcurrencyCap < 1 {
		return fmt.Errorf("CONCURRENCY_CAP must be at least 1, got %d", c.ConcurrencyCap)
	}
	if c.CallTimeout <= 0 {
		return fmt.Errorf("BACKEND_CALL_TIMEOUT must be positive, got %s", c.CallTimeout)
	}
	if !c.MockMode && c.BackendBaseURL == "" {
		return fmt.Errorf("BACKEND_BASE_URL is required when mock mode is off")
	}
	return nil
}

// Validate reports the first invalid viewer setting.
func (c Viewer) Validate() error {
	if c.ImageFormat != "jpeg" && c.ImageFormat != "png" {
		return fmt.Errorf("invalid IMAGE_FORMAT %q", c.ImageFormat)
	}
	if c.MaxInFlight < 1 {
		return fmt.Errorf("MAX_IN_FLIGHT must be at least 1, got %d", c.MaxInFlight)
	}
	if c.SampleInterval <= 0 {
		return fmt.Errorf("SAMPLE_INTERVAL must be positive, got %s", c.SampleInterval)
	}
	if c.TickInterval <= 0 {
		return fmt.Errorf("TICK_INTERVAL must be positive, got %s", c.TickInterval)
	}
	if c.JPEGQuality < 1 || c.JPEGQuality > 100 {
		return fmt.Errorf("JPEG_QUALITY must be in [1,100], got %d", c.JPEGQuality)
	}
	if c.MaxDimension < 16 {
		return fmt.Errorf("MAX_DIMENSION must be at least 16, got %d", c.MaxDimension)
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return fallback
}
