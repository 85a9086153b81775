package httpexec

import (
	"encoding/base64"
	"strings"

	"github.com/relaydev/relay/engine/eval"
	"github.com/relaydev/relay/engine/fault"
	"github.com/relaydev/relay/engine/paths"
)

// AuthEntry is one named auth definition contributed by an auth node.
// Token, Username and Password hold context paths, not literal values.
type AuthEntry struct {
	Name       string
	AuthType   string
	HeaderName string
	Token      string
	Username   string
	Password   string
}

// ParseAuthEntries reads the entries list from an auth node's config.
func ParseAuthEntries(config map[string]any) []AuthEntry {
	raw, _ := config["entries"].([]any)
	entries := make([]AuthEntry, 0, len(raw))
	for _, item := range raw {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		entry := AuthEntry{}
		entry.Name, _ = m["name"].(string)
		entry.AuthType, _ = m["authType"].(string)
		entry.HeaderName, _ = m["headerName"].(string)
		entry.Token, _ = m["token"].(string)
		entry.Username, _ = m["username"].(string)
		entry.Password, _ = m["password"].(string)
		entries = append(entries, entry)
	}
	return entries
}

// SplitAuthRef splits "node_id::entry_name" into its parts.
func SplitAuthRef(ref string) (nodeID, entryName string, ok bool) {
	parts := strings.SplitN(ref, "::", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}

// AuthHeader resolves the entry's credentials against the template root and
// returns the header to inject.
func AuthHeader(entry AuthEntry, root map[string]any) (name, value string, err error) {
	name = entry.HeaderName
	if name == "" {
		name = "Authorization"
	}

	resolve := func(path, fallback string) string {
		if path == "" {
			path = fallback
		}
		return eval.Stringify(paths.Resolve(root, path))
	}

	switch strings.ToLower(entry.AuthType) {
	case "bearer":
		token := resolve(entry.Token, "vars.token")
		if strings.HasPrefix(strings.ToLower(token), "bearer ") {
			return name, token, nil
		}
		return name, "Bearer " + token, nil
	case "basic":
		user := resolve(entry.Username, "vars.username")
		pass := resolve(entry.Password, "vars.password")
		encoded := base64.StdEncoding.EncodeToString([]byte(user + ":" + pass))
		return name, "Basic " + encoded, nil
	case "api_key", "apikey", "key":
		return name, resolve(entry.Token, "vars.token"), nil
	case "":
		return "", "", fault.Errorf(fault.ValidationError, "auth entry %q has no authType", entry.Name)
	default:
		return name, resolve(entry.Token, "vars.token"), nil
	}
}
