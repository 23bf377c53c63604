package utils

import (
	"fmt"
	"log"
)

var serverLog bool
var clientLog bool
var sampleLog bool

// InitLog enables the per-component log lanes. Warnings are always printed.
func InitLog(server, client, sample bool) {
	serverLog = server
	clientLog = client
	sampleLog = sample
}

func ServerLog(format string, v ...any) {
	if serverLog {
		log.Printf("INFO Server: %s", fmt.Sprintf(format, v...))
	}
}

func ClientLog(format string, v ...any) {
	if clientLog {
		log.Printf("INFO Client: %s", fmt.Sprintf(format, v...))
	}
}

func SampleLog(format string, v ...any) {
	if sampleLog {
		log.Printf("INFO Sampler: %s", fmt.Sprintf(format, v...))
	}
}

func WarnLog(role string, format string, v ...any) {
	log.Printf("WARN %s: %s", role, fmt.Sprintf(format, v...))
}
