package utils

import (
	"fmt"
	"net"
	"os"
	"time"
)

// ConsumerIDEnvVar is the environment variable consulted when hostname
// resolution fails while deriving a lease identity.
const ConsumerIDEnvVar = "KINESIS_CONSUMER_ID"

// ResolveConsumerID derives a stable identity for this process to use as
// the consumer_id field of an acquired lease. It tries, in order:
//  1. The first resolved IPv4 address of the local hostname.
//  2. The KINESIS_CONSUMER_ID environment variable, if set.
//  3. A synthesized "consumer-<pid>-<unix seconds>" identity.
func ResolveConsumerID() string {
	if ip, err := firstIPv4OfHostname(); err == nil {
		return ip
	}

	if v := os.Getenv(ConsumerIDEnvVar); v != "" {
		return v
	}

	return fmt.Sprintf("consumer-%d-%d", os.Getpid(), time.Now().Unix())
}

func firstIPv4OfHostname() (string, error) {
	hostname, err := os.Hostname()
	if err != nil {
		return "", err
	}

	addrs, err := net.LookupHost(hostname)
	if err != nil {
		return "", err
	}

	for _, addr := range addrs {
		ip := net.ParseIP(addr)
		if ip != nil && ip.To4() != nil {
			return ip.String(), nil
		}
	}

	return "", fmt.Errorf("no IPv4 address found for hostname %q", hostname)
}
