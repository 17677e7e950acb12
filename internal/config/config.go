// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Pose sources the calibrator can sample from.
const (
	PoseSourceMQTT   = "mqtt"
	PoseSourceSerial = "serial"
	PoseSourceMock   = "mock"
)

// Config holds all application configuration values.
type Config struct {
	// MQTT
	MQTTBroker             string
	MQTTClientIDCalibrator string
	MQTTClientIDStaticTF   string
	MQTTClientIDProducer   string
	MQTTClientIDConsole    string
	MQTTClientIDTracker    string

	// Topics
	TopicTFPrefix string

	// Pose source
	PoseSource        string        // "mqtt", "serial" or "mock"
	PoseMaxAge        time.Duration // lookups older than this are unavailable, 0 disables
	TrackerSerialPort string
	TrackerBaudRate   int

	// Frames
	ChainAReferenceFrame string
	ChainATargetFrame    string
	ChainBReferenceFrame string
	ChainBTargetFrame    string
	OutputFrameID        string
	OutputChildFrameID   string

	// Calibration record
	CalibrationName string
	CalibrationDir  string

	// Initial guess, broadcast until the first calibration
	InitialTranslation [3]float64
	InitialRotation    [4]float64 // x, y, z, w

	// Sampling
	Samples        int
	SampleInterval time.Duration
	RetryBackoff   time.Duration

	// Timing
	BroadcastInterval time.Duration
	StaticTFInterval  time.Duration
	StartupDelay      time.Duration

	// Mock source
	MockTruthTranslation [3]float64
	MockTruthRotation    [4]float64 // x, y, z, w
	MockNoiseTranslation float64    // metres
	MockNoiseRotation    float64    // radians

	// Web Server
	WebServerPort int
}

// Package-level unexported variables for singleton pattern:
//   - globalConfig: only reachable through Get, so nothing modifies it without the lock.
//   - configOnce: ensures InitGlobal() only runs once, even if called multiple times.
//   - configMu: write lock for initialization, read lock for Get().
var (
	globalConfig *Config
	configOnce   sync.Once
	configMu     sync.RWMutex
)

// Default returns the configuration used for every key a file leaves out.
func Default() *Config {
	return &Config{
		MQTTBroker:             "tcp://localhost:1883",
		MQTTClientIDCalibrator: "average-calibrator",
		MQTTClientIDStaticTF:   "average-calibrator-static-tf",
		MQTTClientIDProducer:   "average-calibrator-producer",
		MQTTClientIDConsole:    "average-calibrator-console",
		MQTTClientIDTracker:    "average-calibrator-tracker",

		TopicTFPrefix: "tf",

		PoseSource:        PoseSourceMQTT,
		PoseMaxAge:        500 * time.Millisecond,
		TrackerSerialPort: "/dev/ttyUSB0",
		TrackerBaudRate:   115200,

		ChainAReferenceFrame: "/camera_depth_optical_frame",
		ChainATargetFrame:    "/ar_marker_60",
		ChainBReferenceFrame: "/phase_space_world",
		ChainBTargetFrame:    "/calibrator",

		CalibrationName: "asus_phase_space",
		CalibrationDir:  "config",

		InitialRotation: [4]float64{0, 0, 0, 1},

		Samples:        50,
		SampleInterval: 100 * time.Millisecond,
		RetryBackoff:   1000 * time.Millisecond,

		BroadcastInterval: 100 * time.Millisecond,
		StaticTFInterval:  10 * time.Millisecond,
		StartupDelay:      3000 * time.Millisecond,

		MockTruthTranslation: [3]float64{0.1, -0.2, 1.5},
		MockTruthRotation:    [4]float64{0, 0, 0.2588190451, 0.9659258263},

		WebServerPort: 8080,
	}
}

// Load reads the configuration file and returns a Config struct.
// Keys not present in the file keep their Default value.
func Load(configPath string) (*Config, error) {
	file, err := os.Open(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	cfg := Default()
	scanner := bufio.NewScanner(file)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		// Skip empty lines and comments
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		// Parse KEY=VALUE
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid config line %d: %q", lineNum, line)
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		if err := cfg.setValue(key, value); err != nil {
			return nil, fmt.Errorf("config line %d: %w", lineNum, err)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// setValue sets a config value based on the key.
func (c *Config) setValue(key, value string) error {
	var err error
	switch key {
	// MQTT
	case "MQTT_BROKER":
		c.MQTTBroker = value
	case "MQTT_CLIENT_ID_CALIBRATOR":
		c.MQTTClientIDCalibrator = value
	case "MQTT_CLIENT_ID_STATIC_TF":
		c.MQTTClientIDStaticTF = value
	case "MQTT_CLIENT_ID_PRODUCER":
		c.MQTTClientIDProducer = value
	case "MQTT_CLIENT_ID_CONSOLE":
		c.MQTTClientIDConsole = value
	case "MQTT_CLIENT_ID_TRACKER":
		c.MQTTClientIDTracker = value

	// Topics
	case "TOPIC_TF_PREFIX":
		c.TopicTFPrefix = value

	// Pose source
	case "POSE_SOURCE":
		switch value {
		case PoseSourceMQTT, PoseSourceSerial, PoseSourceMock:
			c.PoseSource = value
		default:
			return fmt.Errorf("POSE_SOURCE must be one of mqtt, serial, mock, got %q", value)
		}
	case "POSE_MAX_AGE":
		c.PoseMaxAge, err = parseMillis(key, value, 0)
	case "TRACKER_SERIAL_PORT":
		c.TrackerSerialPort = value
	case "TRACKER_BAUD_RATE":
		c.TrackerBaudRate, err = parseInt(key, value, 1, 4000000)

	// Frames
	case "CHAIN_A_REFERENCE_FRAME":
		c.ChainAReferenceFrame = value
	case "CHAIN_A_TARGET_FRAME":
		c.ChainATargetFrame = value
	case "CHAIN_B_REFERENCE_FRAME":
		c.ChainBReferenceFrame = value
	case "CHAIN_B_TARGET_FRAME":
		c.ChainBTargetFrame = value
	case "OUTPUT_FRAME_ID":
		c.OutputFrameID = value
	case "OUTPUT_CHILD_FRAME_ID":
		c.OutputChildFrameID = value

	// Calibration record
	case "CALIBRATION_NAME":
		c.CalibrationName = value
	case "CALIBRATION_DIR":
		c.CalibrationDir = value

	// Initial guess
	case "INITIAL_TRANSLATION":
		err = parseVector(key, value, c.InitialTranslation[:])
	case "INITIAL_ROTATION":
		err = parseVector(key, value, c.InitialRotation[:])

	// Sampling
	case "SAMPLES":
		c.Samples, err = parseInt(key, value, 1, 100000)
	case "SAMPLE_INTERVAL":
		c.SampleInterval, err = parseMillis(key, value, 0)
	case "RETRY_BACKOFF":
		c.RetryBackoff, err = parseMillis(key, value, 0)

	// Timing
	case "BROADCAST_INTERVAL":
		c.BroadcastInterval, err = parseMillis(key, value, 1)
	case "STATIC_TF_INTERVAL":
		c.StaticTFInterval, err = parseMillis(key, value, 1)
	case "STARTUP_DELAY":
		c.StartupDelay, err = parseMillis(key, value, 0)

	// Mock source
	case "MOCK_TRUTH_TRANSLATION":
		err = parseVector(key, value, c.MockTruthTranslation[:])
	case "MOCK_TRUTH_ROTATION":
		err = parseVector(key, value, c.MockTruthRotation[:])
	case "MOCK_NOISE_TRANSLATION":
		c.MockNoiseTranslation, err = parseFloat(key, value)
	case "MOCK_NOISE_ROTATION":
		c.MockNoiseRotation, err = parseFloat(key, value)

	// Web Server
	case "WEB_SERVER_PORT":
		c.WebServerPort, err = parseInt(key, value, 1, 65535)

	default:
		return fmt.Errorf("unknown config key: %q", key)
	}

	return err
}

func parseInt(key, value string, min, max int) (int, error) {
	v, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	if v < min || v > max {
		return 0, fmt.Errorf("%s must be %d-%d, got %d", key, min, max, v)
	}
	return v, nil
}

// parseMillis reads a duration given in milliseconds.
func parseMillis(key, value string, min int) (time.Duration, error) {
	ms, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	if ms < min {
		return 0, fmt.Errorf("%s must be at least %d ms, got %d", key, min, ms)
	}
	return time.Duration(ms) * time.Millisecond, nil
}

func parseFloat(key, value string) (float64, error) {
	v, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	if v < 0 {
		return 0, fmt.Errorf("%s must not be negative, got %g", key, v)
	}
	return v, nil
}

// parseVector reads exactly len(dst) comma separated numbers into dst.
func parseVector(key, value string, dst []float64) error {
	parts := strings.Split(value, ",")
	if len(parts) != len(dst) {
		return fmt.Errorf("%s needs %d comma separated values, got %q", key, len(dst), value)
	}
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return fmt.Errorf("invalid %s component %d %q: %w", key, i, p, err)
		}
		dst[i] = v
	}
	return nil
}

// validate checks that all required fields are set.
func (c *Config) validate() error {
	if c.MQTTBroker == "" {
		return fmt.Errorf("MQTT_BROKER is required")
	}
	for _, f := range []struct{ key, value string }{
		{"CHAIN_A_REFERENCE_FRAME", c.ChainAReferenceFrame},
		{"CHAIN_A_TARGET_FRAME", c.ChainATargetFrame},
		{"CHAIN_B_REFERENCE_FRAME", c.ChainBReferenceFrame},
		{"CHAIN_B_TARGET_FRAME", c.ChainBTargetFrame},
		{"CALIBRATION_NAME", c.CalibrationName},
	} {
		if f.value == "" {
			return fmt.Errorf("%s is required", f.key)
		}
	}
	if c.PoseSource == PoseSourceSerial && c.TrackerSerialPort == "" {
		return fmt.Errorf("TRACKER_SERIAL_PORT is required when POSE_SOURCE=serial")
	}
	r := c.InitialRotation
	if r[0] == 0 && r[1] == 0 && r[2] == 0 && r[3] == 0 {
		return fmt.Errorf("INITIAL_ROTATION must not be the zero quaternion")
	}
	return nil
}

// OutputFrames returns the frames the calibrated transform is published
// between. Unset values fall back to the chain A reference frame and the
// chain B reference frame.
func (c *Config) OutputFrames() (frameID, childFrameID string) {
	frameID, childFrameID = c.OutputFrameID, c.OutputChildFrameID
	if frameID == "" {
		frameID = c.ChainAReferenceFrame
	}
	if childFrameID == "" {
		childFrameID = c.ChainBReferenceFrame
	}
	return frameID, childFrameID
}

// InitGlobal initializes the global configuration from file.
// Uses sync.Once so only the first call loads anything.
func InitGlobal(configPath string) error {
	var err error
	configOnce.Do(func() {
		configMu.Lock()
		defer configMu.Unlock()
		globalConfig, err = Load(configPath)
	})
	return err
}

// Get returns the global configuration instance.
// InitGlobal must be called first, or this will return nil.
func Get() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return globalConfig
}
