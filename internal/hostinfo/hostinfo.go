// Package hostinfo detects the facts roles are selected by: short host
// name, domain and operating system.
package hostinfo

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"

	"golang.org/x/sys/unix"
)

// ErrUnparsableDomain is returned when no domain can be derived from the
// host name.
var ErrUnparsableDomain = errors.New("domain is not parsable")

// Info holds the detected facts.
type Info struct {
	FQDN    string `yaml:"fqdn"`
	Host    string `yaml:"host"`
	Domain  string `yaml:"domain"`
	OS      string `yaml:"os"`
	Distro  string `yaml:"distro"`
	Version string `yaml:"version"`
}

// Overrides replace detected values; empty fields are ignored.
type Overrides struct {
	Host   string
	Domain string
	OS     string
}

// Detect gathers facts for the running host.
func Detect(o Overrides) (*Info, error) {
	raw, err := os.Hostname()
	if err != nil {
		return nil, fmt.Errorf("reading hostname: %w", err)
	}
	info := &Info{FQDN: strings.ToLower(raw)}

	info.OS, info.Version = uname()
	info.Distro = distro("/etc/os-release")

	if strings.Count(info.FQDN, ".") < 2 {
		if fqdn := lookupFQDN(raw); fqdn != "" {
			info.FQDN = fqdn
		}
	}

	info.Host, info.Domain, err = ParseFQDN(info.FQDN)
	if err != nil && o.Domain == "" {
		return nil, err
	}

	if o.Host != "" {
		info.Host = o.Host
	}
	if o.Domain != "" {
		info.Domain = o.Domain
	}
	if o.OS != "" {
		info.OS = o.OS
	}
	return info, nil
}

// ParseFQDN splits a fully qualified name into the short host name and the
// role domain. With three labels the domain is the last two
// (www.example.com -> example.com); with more, the labels between the host
// and the last two (www.dc1.example.com -> dc1).
func ParseFQDN(fqdn string) (host, domain string, err error) {
	labels := strings.Split(strings.TrimSuffix(fqdn, "."), ".")
	host = labels[0]
	switch n := len(labels); {
	case n == 3:
		return host, strings.Join(labels[1:], "."), nil
	case n >= 4:
		return host, strings.Join(labels[1:n-2], "."), nil
	default:
		return host, "", fmt.Errorf("%q: %w", fqdn, ErrUnparsableDomain)
	}
}

func uname() (osName, version string) {
	var u unix.Utsname
	if err := unix.Uname(&u); err != nil {
		return "unknown", ""
	}
	osName = strings.ToLower(unix.ByteSliceToString(u.Sysname[:]))
	version = strings.ToLower(unix.ByteSliceToString(u.Release[:]))
	if osName == "linux" {
		version, _, _ = strings.Cut(version, "-")
	}
	return osName, version
}

// distro reads ID from an os-release file; "generic" when unknown.
func distro(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return "generic"
	}
	return ParseOSRelease(data)
}

// ParseOSRelease returns the ID field of an os-release document.
func ParseOSRelease(data []byte) string {
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		key, val, ok := strings.Cut(strings.TrimSpace(sc.Text()), "=")
		if ok && key == "ID" {
			if id := strings.Trim(val, `"'`); id != "" {
				return strings.ToLower(id)
			}
		}
	}
	return "generic"
}

// lookupFQDN resolves a short host name through the resolver.
func lookupFQDN(name string) string {
	addrs, err := net.LookupHost(name)
	if err != nil || len(addrs) == 0 {
		return ""
	}
	names, err := net.LookupAddr(addrs[0])
	if err != nil {
		return ""
	}
	for _, n := range names {
		n = strings.ToLower(strings.TrimSuffix(n, "."))
		if strings.Count(n, ".") >= 2 {
			return n
		}
	}
	return ""
}
