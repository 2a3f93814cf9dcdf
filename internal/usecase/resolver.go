package usecase

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"content-key-service/config"
	"content-key-service/internal/domain"
)

// AssetIdentifierResolver は鍵リクエストのロケーターからアセットIDを導出する。
type AssetIdentifierResolver struct {
	policy    string
	prefix    string
	delimiter string
}

// NewAssetIdentifierResolver はポリシーに応じたリゾルバーを生成する。
func NewAssetIdentifierResolver(policy, prefix, delimiter string) (*AssetIdentifierResolver, error) {
	switch policy {
	case config.LocatorPolicyPrefix:
		if prefix == "" {
			return nil, errors.New("prefix policy requires a prefix")
		}
	case config.LocatorPolicyDelimiter:
		if delimiter == "" {
			return nil, errors.New("delimiter policy requires a delimiter")
		}
	default:
		return nil, fmt.Errorf("unknown locator policy %q", policy)
	}
	return &AssetIdentifierResolver{
		policy:    policy,
		prefix:    prefix,
		delimiter: delimiter,
	}, nil
}

// NewResolverFromConfig は設定からリゾルバーを生成する。
func NewResolverFromConfig(cfg *config.Config) (*AssetIdentifierResolver, error) {
	return NewAssetIdentifierResolver(cfg.LocatorPolicy, cfg.LocatorPrefix, cfg.LocatorDelimiter)
}

// Resolve はロケーターからアセットIDを取り出す。副作用はない。
func (r *AssetIdentifierResolver) Resolve(locator string) (domain.AssetIdentifier, error) {
	if locator == "" {
		return "", malformed("empty locator")
	}
	if _, err := url.Parse(locator); err != nil {
		return "", domain.NewKeyError(domain.ErrorKindMalformedLocator, err)
	}

	var id string
	switch r.policy {
	case config.LocatorPolicyPrefix:
		rest, ok := strings.CutPrefix(locator, r.prefix)
		if !ok {
			return "", malformed(fmt.Sprintf("locator does not start with %q", r.prefix))
		}
		id = rest
	case config.LocatorPolicyDelimiter:
		i := strings.LastIndex(locator, r.delimiter)
		if i < 0 {
			return "", malformed(fmt.Sprintf("locator has no %q delimiter", r.delimiter))
		}
		id = locator[i+len(r.delimiter):]
	}

	if id == "" {
		return "", malformed("empty asset identifier")
	}
	return domain.AssetIdentifier(id), nil
}

func malformed(msg string) error {
	return domain.NewKeyError(domain.ErrorKindMalformedLocator, errors.New(msg))
}
