package utils

import (
	"fmt"
	"log"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Process-mode values for the DIST_MODE environment variable.
const (
	EnvDistMode         = "DIST_MODE"
	DistModeLocal       = "standalone"
	DistModeDistributed = "distributed"
)

type EnvVars struct {
	DistMode   string
	IPConfig   string
	ServerID   int
	NumClients int
	Manifest   string
	PartID     int
	Monitor    string
	ServerLog  bool
	ClientLog  bool
	SampleLog  bool
}

// ReadEnvVars loads the process configuration from the environment (and a
// .env file if one exists; existing variables are not overridden).
func ReadEnvVars() EnvVars {
	_ = godotenv.Load()
	distMode := ReadStringEnvVarOr(EnvDistMode, DistModeDistributed)
	ipConfig := ReadStringEnvVarOr("IP_CONFIG", "ip_config.txt")
	serverID := ReadIntEnvVarOr("SERVER_ID", 0)
	numClients := ReadIntEnvVarOr("NUM_CLIENTS", 1)
	manifest := ReadStringEnvVarOr("PART_CONFIG", "")
	partID := ReadIntEnvVarOr("PART_ID", serverID)
	monitor := ReadStringEnvVarOr("MONITOR_ADDR", "")
	serverLog := ReadBoolEnvVarOr("SERVER_LOG", false)
	clientLog := ReadBoolEnvVarOr("CLIENT_LOG", false)
	sampleLog := ReadBoolEnvVarOr("SAMPLE_LOG", false)
	return EnvVars{
		DistMode: distMode, IPConfig: ipConfig,
		ServerID: serverID, NumClients: numClients,
		Manifest: manifest, PartID: partID, Monitor: monitor,
		ServerLog: serverLog, ClientLog: clientLog, SampleLog: sampleLog,
	}
}

func ReadStringEnvVar(name string) (string, error) {
	value := os.Getenv(name)
	if value == "" {
		return "", fmt.Errorf("%s not set", name)
	}
	return value, nil
}

func ReadIntEnvVar(name string) (int, error) {
	valueStr, err := ReadStringEnvVar(name)
	if err != nil {
		return 0, err
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return 0, fmt.Errorf("could not convert %s to a number: %v", name, err)
	}
	return value, nil
}

func ReadStringEnvVarOr(name string, or string) string {
	value, err := ReadStringEnvVar(name)
	if err != nil {
		value = or
	}
	return value
}

func ReadIntEnvVarOr(name string, or int) int {
	value, err := ReadIntEnvVar(name)
	if err != nil {
		value = or
	}
	return value
}

func ReadBoolEnvVarOr(name string, or bool) bool {
	valueStr, err := ReadStringEnvVar(name)
	if err != nil {
		return or
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return or
	}
	return value
}

// FailOnError aborts the process on a startup error; entrypoints only.
func FailOnError(format string, err error, v ...any) {
	if err != nil {
		log.Fatalf("%s: %v", fmt.Sprintf(format, v...), err)
	}
}
