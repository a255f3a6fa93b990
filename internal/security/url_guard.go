package security

import (
	"errors"
	"fmt"
	"net/http"
	"net/netip"
	"net/url"
	"strings"
	"time"

	"github.com/doyensec/safeurl"
)

// MaxImageURLLength はプロフィール画像URLの最大長。
const MaxImageURLLength = 2048

var (
	// ErrUnsafeURL はURLが外部公開ホストを指していない場合のエラー。
	ErrUnsafeURL = errors.New("unsafe url")
)

// URLGuardService は外部URLの取り扱いに関する防御機能のインターフェースを定義する。
// OAuthのトークン交換・ユーザー情報取得と、IDプロバイダから受け取ったプロフィール画像URLの検証に使用される。
type URLGuardService interface {
	// NewSafeClient はプライベートIP等への接続をダイヤル時に拒否するHTTPクライアントを生成する。
	// https（443番ポート）のみ許可する。
	NewSafeClient(timeout time.Duration) *http.Client

	// ValidateImageURL はプロフィール画像URLとして保存してよいかを静的に検証する。
	ValidateImageURL(rawURL string) error
}

// blockedPrefixes は外部ホストとして扱わないアドレス範囲。
var blockedPrefixes = []netip.Prefix{
	netip.MustParsePrefix("0.0.0.0/8"),
	netip.MustParsePrefix("10.0.0.0/8"),
	netip.MustParsePrefix("100.64.0.0/10"),
	netip.MustParsePrefix("127.0.0.0/8"),
	netip.MustParsePrefix("169.254.0.0/16"),
	netip.MustParsePrefix("172.16.0.0/12"),
	netip.MustParsePrefix("192.168.0.0/16"),
	netip.MustParsePrefix("::1/128"),
	netip.MustParsePrefix("fc00::/7"),
	netip.MustParsePrefix("fe80::/10"),
}

// urlGuard はURLGuardServiceの実装。
type urlGuard struct{}

// NewURLGuard はURLGuardServiceの新しいインスタンスを生成する。
func NewURLGuard() *urlGuard {
	return &urlGuard{}
}

// NewSafeClient はsafeurlでラップしたHTTPクライアントを返す。
// DNS解決後のIPアドレスもnet.DialerのControlフックで検証される。
func (g *urlGuard) NewSafeClient(timeout time.Duration) *http.Client {
	config := safeurl.GetConfigBuilder().
		SetTimeout(timeout).
		SetAllowedSchemes("https").
		SetAllowedPorts(443).
		Build()

	return safeurl.Client(config).Client
}

// ValidateImageURL はhttpsの絶対URLで、ユーザー情報を含まず、
// 内部アドレスやlocalhostを指していないことを確認する。DNS解決は行わない。
func (g *urlGuard) ValidateImageURL(rawURL string) error {
	if rawURL == "" {
		return fmt.Errorf("%w: empty", ErrUnsafeURL)
	}
	if len(rawURL) > MaxImageURLLength {
		return fmt.Errorf("%w: too long", ErrUnsafeURL)
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnsafeURL, err)
	}
	if !strings.EqualFold(u.Scheme, "https") {
		return fmt.Errorf("%w: scheme %q", ErrUnsafeURL, u.Scheme)
	}
	if u.User != nil {
		return fmt.Errorf("%w: userinfo", ErrUnsafeURL)
	}

	host := u.Hostname()
	if host == "" {
		return fmt.Errorf("%w: empty host", ErrUnsafeURL)
	}
	if addr, err := netip.ParseAddr(host); err == nil {
		if isBlockedAddr(addr) {
			return fmt.Errorf("%w: blocked address %s", ErrUnsafeURL, addr)
		}
		return nil
	}

	lower := strings.ToLower(strings.TrimSuffix(host, "."))
	if lower == "localhost" || strings.HasSuffix(lower, ".localhost") {
		return fmt.Errorf("%w: blocked host %s", ErrUnsafeURL, host)
	}
	return nil
}

func isBlockedAddr(addr netip.Addr) bool {
	addr = addr.Unmap()
	for _, p := range blockedPrefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}
