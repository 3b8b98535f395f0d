// Package remoteconfig reads and writes the repository's INI-like
// ".gyatt/config" file: [core], [user] and [remote "<name>"] sections.
package remoteconfig

import (
	"bufio"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// AuthKind enumerates how a remote authenticates outbound requests.
type AuthKind int

const (
	AuthNone AuthKind = iota
	AuthToken
	AuthSSHKeyPath
	AuthUserPassword
)

// AuthDescriptor records how requests to a remote should be authenticated.
type AuthDescriptor struct {
	Kind        AuthKind
	Token       string
	SSHKeyPath  string
	User        string
	Password    string
}

// Remote is a named push/fetch target plus its auth descriptor.
type Remote struct {
	Name string
	URL  string
	Auth AuthDescriptor
}

// Identity is the [user] section: the author/committer identity used
// for new commits when the caller doesn't supply one explicitly.
type Identity struct {
	Name  string
	Email string
}

// Core is the [core] section: repository-wide settings.
type Core struct {
	Bare bool
}

// Config is the parsed ".gyatt/config" file.
type Config struct {
	Core    Core
	User    Identity
	Remotes map[string]Remote
}

// URL is a parsed remote URL's components.
type URL struct {
	Protocol string
	Host     string
	Port     int
	Path     string
	User     string
}

func configPath(gyattDir string) string {
	return filepath.Join(gyattDir, "config")
}

// Load reads and parses ".gyatt/config". A missing file yields an
// empty Config rather than an error, matching a freshly initialized repo.
func Load(gyattDir string) (*Config, error) {
	cfg := &Config{Remotes: make(map[string]Remote)}

	f, err := os.Open(configPath(gyattDir))
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	var section, subsection string

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, ";") {
			continue
		}

		if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
			section, subsection = parseSectionHeader(line)
			if section == "remote" {
				cfg.Remotes[subsection] = Remote{Name: subsection, Auth: AuthDescriptor{Kind: AuthNone}}
			}
			continue
		}

		key, value, ok := parseKeyValue(line)
		if !ok {
			continue
		}
		applyKeyValue(cfg, section, subsection, key, value)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func parseSectionHeader(line string) (section, subsection string) {
	inner := strings.TrimSuffix(strings.TrimPrefix(line, "["), "]")
	if i := strings.Index(inner, " \""); i != -1 && strings.HasSuffix(inner, "\"") {
		return inner[:i], inner[i+2 : len(inner)-1]
	}
	return inner, ""
}

func parseKeyValue(line string) (key, value string, ok bool) {
	parts := strings.SplitN(line, "=", 2)
	if len(parts) != 2 {
		return "", "", false
	}
	return strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1]), true
}

func applyKeyValue(cfg *Config, section, subsection, key, value string) {
	switch section {
	case "core":
		if key == "bare" {
			cfg.Core.Bare = value == "true"
		}
	case "user":
		switch key {
		case "name":
			cfg.User.Name = value
		case "email":
			cfg.User.Email = value
		}
	case "remote":
		r := cfg.Remotes[subsection]
		r.Name = subsection
		switch key {
		case "url":
			r.URL = value
		case "authtype":
			r.Auth.Kind = parseAuthKind(value)
		case "token":
			r.Auth.Token = value
		case "sshkeypath":
			r.Auth.SSHKeyPath = value
		case "user":
			r.Auth.User = value
		case "password":
			r.Auth.Password = value
		}
		cfg.Remotes[subsection] = r
	}
}

func parseAuthKind(s string) AuthKind {
	switch s {
	case "token":
		return AuthToken
	case "ssh_key_path":
		return AuthSSHKeyPath
	case "user+password":
		return AuthUserPassword
	default:
		return AuthNone
	}
}

func (k AuthKind) String() string {
	switch k {
	case AuthToken:
		return "token"
	case AuthSSHKeyPath:
		return "ssh_key_path"
	case AuthUserPassword:
		return "user+password"
	default:
		return "none"
	}
}

// Save serializes cfg back to ".gyatt/config". A remote's Password is
// not written.
func (cfg *Config) Save(gyattDir string) error {
	var b strings.Builder
	fmt.Fprintf(&b, "[core]\n\tbare = %t\n", cfg.Core.Bare)
	if cfg.User.Name != "" || cfg.User.Email != "" {
		fmt.Fprintf(&b, "\n[user]\n\tname = %s\n\temail = %s\n", cfg.User.Name, cfg.User.Email)
	}
	for _, name := range sortedRemoteNames(cfg.Remotes) {
		r := cfg.Remotes[name]
		fmt.Fprintf(&b, "\n[remote \"%s\"]\n\turl = %s\n\tauthtype = %s\n", r.Name, r.URL, r.Auth.Kind)
		if r.Auth.Token != "" {
			fmt.Fprintf(&b, "\ttoken = %s\n", r.Auth.Token)
		}
		if r.Auth.SSHKeyPath != "" {
			fmt.Fprintf(&b, "\tsshkeypath = %s\n", r.Auth.SSHKeyPath)
		}
		if r.Auth.User != "" {
			fmt.Fprintf(&b, "\tuser = %s\n", r.Auth.User)
		}
	}

	path := configPath(gyattDir)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(b.String()), 0644)
}

func sortedRemoteNames(remotes map[string]Remote) []string {
	names := make([]string, 0, len(remotes))
	for name := range remotes {
		names = append(names, name)
	}
	for i := 1; i < len(names); i++ {
		for j := i; j > 0 && names[j] < names[j-1]; j-- {
			names[j], names[j-1] = names[j-1], names[j]
		}
	}
	return names
}

// AddRemote inserts a new remote, failing if one by that name exists.
func AddRemote(gyattDir, name, remoteURL string) error {
	if name == "" || remoteURL == "" {
		return fmt.Errorf("remote name and URL are required")
	}
	cfg, err := Load(gyattDir)
	if err != nil {
		return err
	}
	if _, exists := cfg.Remotes[name]; exists {
		return fmt.Errorf("remote %q already exists", name)
	}
	cfg.Remotes[name] = Remote{Name: name, URL: remoteURL}
	return cfg.Save(gyattDir)
}

// RemoveRemote deletes a remote by name.
func RemoveRemote(gyattDir, name string) error {
	cfg, err := Load(gyattDir)
	if err != nil {
		return err
	}
	if _, exists := cfg.Remotes[name]; !exists {
		return fmt.Errorf("remote %q not found", name)
	}
	delete(cfg.Remotes, name)
	return cfg.Save(gyattDir)
}

// GetRemote looks up a single remote by name.
func GetRemote(gyattDir, name string) (*Remote, error) {
	cfg, err := Load(gyattDir)
	if err != nil {
		return nil, err
	}
	r, ok := cfg.Remotes[name]
	if !ok {
		return nil, fmt.Errorf("remote %q not found", name)
	}
	return &r, nil
}

// ParseURL breaks a remote URL into protocol/host/port/path/user.
func ParseURL(rawURL string) (*URL, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, err
	}

	port := 0
	if u.Port() != "" {
		if p, err := strconv.Atoi(u.Port()); err == nil {
			port = p
		}
	}

	return &URL{
		Protocol: u.Scheme,
		Host:     u.Hostname(),
		Port:     port,
		Path:     u.Path,
		User:     u.User.Username(),
	}, nil
}
