package settings

import (
	"context"
	"strings"
)

// APICredential is the scraper view of one upstream credential.
type APICredential struct {
	Key        string `json:"key"`
	Host       string `json:"host,omitempty"`
	Configured bool   `json:"configured"`
}

// APIConfigs groups the scraper credentials.
type APIConfigs struct {
	TikTok1 APICredential `json:"tiktok1"`
	TikTok2 APICredential `json:"tiktok2"`
	YouTube APICredential `json:"youtube"`
}

// Masked returns a copy with every key masked.
func (c APIConfigs) Masked() APIConfigs {
	c.TikTok1.Key = MaskAPIKey(c.TikTok1.Key)
	c.TikTok2.Key = MaskAPIKey(c.TikTok2.Key)
	c.YouTube.Key = MaskAPIKey(c.YouTube.Key)
	return c
}

// APIConfigs resolves the current scraper credentials.
func (s *Store) APIConfigs(ctx context.Context) (APIConfigs, error) {
	v, err := s.GetMany(ctx, KeyTikTokKey1, KeyTikTokHost1, KeyTikTokKey2, KeyTikTokHost2, KeyYouTube)
	if err != nil {
		return APIConfigs{}, err
	}
	cred := func(key, host, defHost string) APICredential {
		k := strings.TrimSpace(v[key])
		c := APICredential{Key: k, Configured: k != ""}
		if defHost != "" {
			c.Host = strings.TrimSpace(v[host])
			if c.Host == "" {
				c.Host = defHost
			}
		}
		return c
	}
	return APIConfigs{
		TikTok1: cred(KeyTikTokKey1, KeyTikTokHost1, DefaultTikTokHost1),
		TikTok2: cred(KeyTikTokKey2, KeyTikTokHost2, DefaultTikTokHost2),
		YouTube: cred(KeyYouTube, "", ""),
	}, nil
}

// CredentialUpdate carries optional new values. Nil fields are left as is.
type CredentialUpdate struct {
	Key  *string `json:"key"`
	Host *string `json:"host"`
}

// APIConfigsUpdate is the admin PUT /config body's apis object.
type APIConfigsUpdate struct {
	TikTok1 *CredentialUpdate `json:"tiktok1"`
	TikTok2 *CredentialUpdate `json:"tiktok2"`
	YouTube *CredentialUpdate `json:"youtube"`
}

// Changes flattens the update into config keys.
func (u APIConfigsUpdate) Changes() map[string]string {
	out := map[string]string{}
	add := func(c *CredentialUpdate, key, host string) {
		if c == nil {
			return
		}
		if c.Key != nil {
			out[key] = strings.TrimSpace(*c.Key)
		}
		if c.Host != nil && host != "" {
			out[host] = strings.TrimSpace(*c.Host)
		}
	}
	add(u.TikTok1, KeyTikTokKey1, KeyTikTokHost1)
	add(u.TikTok2, KeyTikTokKey2, KeyTikTokHost2)
	add(u.YouTube, KeyYouTube, "")
	return out
}

// UpdateAPIConfigs applies u atomically and returns the changed keys.
func (s *Store) UpdateAPIConfigs(ctx context.Context, u APIConfigsUpdate) ([]string, error) {
	changes := u.Changes()
	if err := s.SetMany(ctx, changes); err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(changes))
	for k := range changes {
		keys = append(keys, k)
	}
	return keys, nil
}

// KeyStatus is the admin listing entry for one logical credential.
type KeyStatus struct {
	Name        string `json:"name"`
	Configured  bool   `json:"configured"`
	Masked      string `json:"masked,omitempty"`
	Host        string `json:"host,omitempty"`
	Description string `json:"description"`
	Required    bool   `json:"required"`
}

// KeyStatuses lists every logical credential with its value masked.
// The JWT secret is never partially revealed.
func (s *Store) KeyStatuses(ctx context.Context) (map[string]KeyStatus, error) {
	out := make(map[string]KeyStatus, len(keySpecs))
	for _, spec := range keySpecs {
		v, err := s.Get(ctx, spec.Key)
		if err != nil {
			return nil, err
		}
		st := KeyStatus{
			Name:        spec.Label,
			Configured:  strings.TrimSpace(v) != "",
			Description: spec.Description,
			Required:    true,
		}
		if st.Configured {
			if spec.Name == "jwt" {
				st.Masked = strings.Repeat("*", 15)
			} else {
				st.Masked = MaskAPIKey(v)
			}
		}
		if spec.HostKey != "" {
			h, err := s.Get(ctx, spec.HostKey)
			if err != nil {
				return nil, err
			}
			if h == "" {
				h = spec.DefaultHost
			}
			st.Host = h
		}
		out[spec.Name] = st
	}
	return out, nil
}

// UpdateKey sets a credential by logical name. host is ignored for
// credentials without a host.
func (s *Store) UpdateKey(ctx context.Context, name, value, host string) error {
	spec, err := LookupKeySpec(name)
	if err != nil {
		return err
	}
	changes := map[string]string{spec.Key: strings.TrimSpace(value)}
	if host = strings.TrimSpace(host); host != "" && spec.HostKey != "" {
		changes[spec.HostKey] = host
	}
	return s.SetMany(ctx, changes)
}
