package transport

import (
	"fmt"
	"net"
	"strconv"
)

// DefaultPort is the port every datacenter listens on for obfuscated TCP.
const DefaultPort = 443

var (
	prodDCv4 = map[int]string{
		1: "149.154.175.53",
		2: "149.154.167.51",
		3: "149.154.175.100",
		4: "149.154.167.91",
		5: "91.108.56.130",
	}
	testDCv4 = map[int]string{
		1: "149.154.175.10",
		2: "149.154.167.40",
		3: "149.154.175.117",
	}
	prodDCv6 = map[int]string{
		1: "2001:b28:f23d:f001::a",
		2: "2001:67c:4e8:f002::a",
		3: "2001:b28:f23d:f003::a",
		4: "2001:67c:4e8:f004::a",
		5: "2001:b28:f23f:f005::a",
	}
	testDCv6 = map[int]string{
		1: "2001:b28:f23d:f001::e",
		2: "2001:67c:4e8:f002::e",
		3: "2001:b28:f23d:f003::e",
	}
)

// DCAddress returns host:port of a datacenter.
func DCAddress(dcID int, testMode, ipv6 bool) (string, error) {
	table := prodDCv4
	switch {
	case testMode && ipv6:
		table = testDCv6
	case testMode:
		table = testDCv4
	case ipv6:
		table = prodDCv6
	}

	host, ok := table[dcID]
	if !ok {
		return "", fmt.Errorf("unknown datacenter %d (test=%t ipv6=%t)", dcID, testMode, ipv6)
	}
	return net.JoinHostPort(host, strconv.Itoa(DefaultPort)), nil
}
