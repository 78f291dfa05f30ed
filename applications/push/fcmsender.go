package push

import (
	"bytes"
	"context"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/nearloop/backend/infrastructure/cache"
	"github.com/nearloop/backend/infrastructure/resilience"
)

const (
	fcmScope       = "https://www.googleapis.com/auth/firebase.messaging"
	fcmTokenURL    = "https://oauth2.googleapis.com/token"
	fcmSendURLBase = "https://fcm.googleapis.com/v1/projects/%s/messages:send"
	// fcmAssertionTTL is how long the self-signed bearer assertion is
	// valid for when exchanging it for an access token (Google's service
	// account flow caps this at one hour).
	fcmAssertionTTL = time.Hour
	// accessTokenRefreshMargin re-mints the cached access token this long
	// before Google's own expiry, so a send never races an expired token.
	accessTokenRefreshMargin = 2 * time.Minute
)

// serviceAccountKey is the subset of a Google service-account JSON key
// file FCMSender needs to mint its own OAuth2 bearer assertions.
type serviceAccountKey struct {
	ProjectID   string `json:"project_id"`
	ClientEmail string `json:"client_email"`
	PrivateKey  string `json:"private_key"`
	TokenURI    string `json:"token_uri"`
}

// FCMSender delivers notifications through Firebase Cloud Messaging's v1
// HTTP API. It owns its own OAuth2 access token, refreshed from the
// service account's private key as it approaches expiry; there is no
// separate long-lived credential to rotate.
type FCMSender struct {
	account    serviceAccountKey
	privateKey *rsa.PrivateKey
	sendURL    string
	httpClient *http.Client

	// tokenCache holds the single cached access token under a fixed key;
	// infrastructure/cache.TokenCache already handles the "expired entry
	// misses" logic freshAccessToken needs, so the token isn't tracked by
	// hand here.
	tokenCache *cache.TokenCache

	// breaker trips after consecutive FCM send failures so a prolonged
	// FCM outage fails fast instead of piling up slow round trips on top
	// of the adaptive backoff SendingLogic already applies (spec.md §4.7).
	breaker *resilience.CircuitBreaker
}

// accessTokenCacheKey is the single slot the access token is cached
// under: one FCMSender authenticates as exactly one service account.
const accessTokenCacheKey = "fcm-access-token"

// NewFCMSender loads a service account JSON key file from path and
// builds a Sender that authenticates against FCM as that account.
func NewFCMSender(path string) (*FCMSender, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("push: read fcm service account %s: %w", path, err)
	}

	var acct serviceAccountKey
	if err := json.Unmarshal(raw, &acct); err != nil {
		return nil, fmt.Errorf("push: parse fcm service account %s: %w", path, err)
	}
	if acct.ProjectID == "" || acct.ClientEmail == "" || acct.PrivateKey == "" {
		return nil, fmt.Errorf("push: fcm service account %s is missing project_id, client_email or private_key", path)
	}
	if acct.TokenURI == "" {
		acct.TokenURI = fcmTokenURL
	}

	block, _ := pem.Decode([]byte(acct.PrivateKey))
	if block == nil {
		return nil, fmt.Errorf("push: fcm service account %s: private_key is not PEM-encoded", path)
	}
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("push: fcm service account %s: parse private key: %w", path, err)
	}
	rsaKey, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("push: fcm service account %s: private key is not RSA", path)
	}

	return &FCMSender{
		account:    acct,
		privateKey: rsaKey,
		sendURL:    fmt.Sprintf(fcmSendURLBase, acct.ProjectID),
		httpClient: &http.Client{Timeout: 10 * time.Second},
		tokenCache: cache.NewTokenCache(cache.DefaultConfig()),
		breaker:    resilience.New(resilience.DefaultConfig()),
	}, nil
}

// fcmMessage mirrors the subset of FCM v1's message envelope this sender
// populates: a single title/body notification targeted at one device.
type fcmMessage struct {
	Message struct {
		Token        string            `json:"token"`
		Notification map[string]string `json:"notification"`
	} `json:"message"`
}

// fcmErrorBody is FCM's standard googleapis error envelope.
type fcmErrorBody struct {
	Error struct {
		Code    int    `json:"code"`
		Status  string `json:"status"`
		Details []struct {
			Type         string `json:"@type"`
			ErrorCode    string `json:"errorCode"`
			RetryAfter   string `json:"retryAfter"`
		} `json:"details"`
	} `json:"error"`
}

// Send implements Sender by POSTing content to FCM's v1 send endpoint
// for deviceToken, mapping FCM's response onto the recommendation
// taxonomy SendingLogic drives retries from (spec.md §4.7).
func (s *FCMSender) Send(ctx context.Context, deviceToken string, content Content) (Response, error) {
	token, err := s.freshAccessToken(ctx)
	if err != nil {
		return Response{}, ErrAccessTokenMissing
	}

	var body fcmMessage
	body.Message.Token = deviceToken
	body.Message.Notification = map[string]string{"title": content.Title, "body": content.Body}
	payload, err := json.Marshal(body)
	if err != nil {
		return Response{}, fmt.Errorf("push: marshal fcm message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.sendURL, bytes.NewReader(payload))
	if err != nil {
		return Response{}, fmt.Errorf("push: build fcm request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json; charset=UTF-8")

	var resp *http.Response
	err = s.breaker.Execute(ctx, func() error {
		var doErr error
		resp, doErr = s.httpClient.Do(req)
		return doErr
	})
	if err != nil {
		return Response{}, fmt.Errorf("push: fcm send: %w", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return Response{}, fmt.Errorf("push: read fcm response: %w", err)
	}

	if resp.StatusCode == http.StatusOK {
		return Response{Action: ActionNone}, nil
	}
	return classifyFCMError(resp.StatusCode, raw), nil
}

// classifyFCMError maps an FCM v1 HTTP error onto the recommendation
// taxonomy, following Google's documented retry guidance per status/
// errorCode combination.
func classifyFCMError(status int, raw []byte) Response {
	var body fcmErrorBody
	_ = json.Unmarshal(raw, &body)

	errorCode := ""
	var retryAfter time.Duration
	for _, d := range body.Error.Details {
		if d.ErrorCode != "" {
			errorCode = d.ErrorCode
		}
		if d.RetryAfter != "" {
			if parsed, err := time.ParseDuration(d.RetryAfter); err == nil {
				retryAfter = parsed
			}
		}
	}

	switch {
	case status == http.StatusNotFound, errorCode == "UNREGISTERED":
		return Response{Action: ActionRemoveFcmAppToken}
	case status == http.StatusBadRequest && errorCode == "INVALID_ARGUMENT":
		return Response{Action: ActionFixMessageContent}
	case status == http.StatusForbidden:
		return Response{Action: ActionCheckSenderIdEquality}
	case status == http.StatusUnauthorized:
		return Response{Action: ActionCheckIosAndWebCredentials}
	case status == http.StatusTooManyRequests, errorCode == "QUOTA_EXCEEDED":
		wait := WaitTime{}
		if retryAfter > 0 {
			wait.Specific = &retryAfter
		}
		return Response{Action: ActionReduceRateAndRetry, Wait: wait}
	case status == http.StatusServiceUnavailable, errorCode == "UNAVAILABLE":
		wait := WaitTime{}
		if retryAfter > 0 {
			wait.Specific = &retryAfter
		} else {
			initial := time.Second
			wait.Initial = &initial
		}
		return Response{Action: ActionRetry, Wait: wait}
	case status >= 500:
		initial := time.Second
		return Response{Action: ActionRetry, Wait: WaitTime{Initial: &initial}}
	default:
		return Response{Action: ActionHandleUnknownError}
	}
}

// freshAccessToken returns the cached OAuth2 access token, minting a new
// one by signing a bearer assertion with the service account's private
// key once the cached token is within accessTokenRefreshMargin of
// expiring.
func (s *FCMSender) freshAccessToken(ctx context.Context) (string, error) {
	if cached, ok := s.tokenCache.GetToken(accessTokenCacheKey); ok {
		return cached.(string), nil
	}

	now := time.Now()
	claims := jwt.RegisteredClaims{
		Issuer:    s.account.ClientEmail,
		Subject:   s.account.ClientEmail,
		Audience:  jwt.ClaimStrings{s.account.TokenURI},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(fcmAssertionTTL)),
	}
	assertionClaims := fcmAssertionClaims{RegisteredClaims: claims, Scope: fcmScope}
	assertion, err := jwt.NewWithClaims(jwt.SigningMethodRS256, assertionClaims).SignedString(s.privateKey)
	if err != nil {
		return "", fmt.Errorf("push: sign fcm bearer assertion: %w", err)
	}

	form := url.Values{
		"grant_type": {"urn:ietf:params:oauth:grant-type:jwt-bearer"},
		"assertion":  {assertion},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.account.TokenURI, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("push: build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("push: exchange fcm bearer assertion: %w", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("push: read token response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("push: fcm token endpoint returned %d: %s", resp.StatusCode, raw)
	}

	var tokenResp struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.Unmarshal(raw, &tokenResp); err != nil || tokenResp.AccessToken == "" {
		return "", fmt.Errorf("push: malformed token response")
	}

	ttl := time.Duration(tokenResp.ExpiresIn)*time.Second - accessTokenRefreshMargin
	if ttl <= 0 {
		ttl = time.Duration(tokenResp.ExpiresIn) * time.Second
	}
	s.tokenCache.SetToken(accessTokenCacheKey, tokenResp.AccessToken, ttl)
	return tokenResp.AccessToken, nil
}

// fcmAssertionClaims is the Google service-account bearer assertion
// shape: RegisteredClaims plus the requested OAuth2 scope.
type fcmAssertionClaims struct {
	jwt.RegisteredClaims
	Scope string `json:"scope"`
}

