// Package iaso is the client for the remote form-management platform.
package iaso

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rpattn/formsync/internal/domain"
)

var (
	// ErrAuthenticationFailed aborts the run before any row processing.
	ErrAuthenticationFailed = errors.New("authentication failed")

	// ErrFormNotFound aborts the run: nothing can be validated or built
	// without the form definition.
	ErrFormNotFound = errors.New("form not found")

	// ErrLockedInstance marks an update target that refuses edits. The row
	// is ignored without any write being attempted.
	ErrLockedInstance = errors.New("instance is locked")
)

// APIError is a non-2xx platform response.
type APIError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.StatusCode, e.Body)
}

// submissionUpdatePermission is the platform permission required to push
// submissions on behalf of an application.
const submissionUpdatePermission = "iaso_update_submission"

// Client talks to one platform server with one authenticated session. The
// token is written once by Authenticate and read-only afterwards.
type Client struct {
	baseURL  string
	username string
	password string
	http     *http.Client

	token  string
	userID string
}

// Option customizes the client.
type Option func(*Client)

// WithHTTPClient replaces the transport, mainly for tests.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		if httpClient != nil {
			c.http = httpClient
		}
	}
}

// WithTimeout sets the transport timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.http.Timeout = timeout
		}
	}
}

// NewClient builds an unauthenticated client.
func NewClient(baseURL, username, password string, opts ...Option) *Client {
	client := &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		username: username,
		password: password,
		http:     &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

// UserID returns the numeric user identifier extracted from the session
// token, as a string. Empty before Authenticate.
func (c *Client) UserID() string {
	return c.userID
}

// Authenticate obtains a bearer token and extracts the user id from its
// payload.
func (c *Client) Authenticate(ctx context.Context) error {
	body, err := json.Marshal(map[string]string{
		"username": c.username,
		"password": c.password,
	})
	if err != nil {
		return err
	}

	resp, err := c.request(ctx, http.MethodPost, "/api/token/", nil, bytes.NewReader(body), "application/json", false)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrAuthenticationFailed, err)
	}
	defer drain(resp)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: %v", ErrAuthenticationFailed, apiError(resp))
	}

	var payload struct {
		Access string `json:"access"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return fmt.Errorf("%w: invalid token response: %v", ErrAuthenticationFailed, err)
	}
	if payload.Access == "" {
		return fmt.Errorf("%w: token missing in response", ErrAuthenticationFailed)
	}

	c.token = payload.Access
	c.userID = userIDFromToken(payload.Access)
	return nil
}

// GetFormInfo fetches the form's identity and latest version id.
func (c *Client) GetFormInfo(ctx context.Context, formID int64) (domain.FormInfo, error) {
	query := url.Values{"fields": {"name,form_id,latest_form_version"}}
	resp, err := c.get(ctx, fmt.Sprintf("/api/forms/%d", formID), query)
	if err != nil {
		return domain.FormInfo{}, err
	}
	defer drain(resp)

	if resp.StatusCode == http.StatusNotFound {
		return domain.FormInfo{}, fmt.Errorf("%w: form %d", ErrFormNotFound, formID)
	}
	if resp.StatusCode != http.StatusOK {
		return domain.FormInfo{}, apiError(resp)
	}

	var payload struct {
		Name              string `json:"name"`
		FormID            string `json:"form_id"`
		LatestFormVersion struct {
			VersionID string `json:"version_id"`
			XLSFile   string `json:"xls_file"`
		} `json:"latest_form_version"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return domain.FormInfo{}, fmt.Errorf("invalid form response: %w", err)
	}

	return domain.FormInfo{
		ID:              formID,
		Name:            payload.Name,
		FormID:          payload.FormID,
		LatestVersionID: payload.LatestFormVersion.VersionID,
	}, nil
}

// GetAppID resolves the application id of a project.
func (c *Client) GetAppID(ctx context.Context, projectID int64) (string, error) {
	query := url.Values{"fields": {"app_id"}}
	resp, err := c.get(ctx, fmt.Sprintf("/api/projects/%d", projectID), query)
	if err != nil {
		return "", err
	}
	defer drain(resp)

	if resp.StatusCode != http.StatusOK {
		return "", apiError(resp)
	}

	var payload struct {
		AppID string `json:"app_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("invalid project response: %w", err)
	}
	if payload.AppID == "" {
		return "", fmt.Errorf("project %d has no app_id", projectID)
	}
	return payload.AppID, nil
}

// HasSubmissionPermission checks that the session user carries the
// submission-update permission and belongs to the application's account.
func (c *Client) HasSubmissionPermission(ctx context.Context, appID string) (bool, error) {
	resp, err := c.get(ctx, "/api/profiles/me/", nil)
	if err != nil {
		return false, err
	}
	defer drain(resp)

	if resp.StatusCode != http.StatusOK {
		return false, apiError(resp)
	}

	var payload struct {
		Permissions     []string `json:"permissions"`
		UserPermissions []string `json:"user_permissions"`
		Account         struct {
			Name string `json:"name"`
		} `json:"account"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return false, fmt.Errorf("invalid profile response: %w", err)
	}

	hasPermission := false
	for _, perm := range append(payload.Permissions, payload.UserPermissions...) {
		if perm == submissionUpdatePermission {
			hasPermission = true
			break
		}
	}
	return hasPermission && payload.Account.Name == appID, nil
}

// VersionFileURL returns the XLSForm workbook URL for a specific form
// version, or "" when the version does not exist.
func (c *Client) VersionFileURL(ctx context.Context, formID int64, versionID string) (string, error) {
	query := url.Values{
		"form_id":    {strconv.FormatInt(formID, 10)},
		"version_id": {versionID},
		"fields":     {"xls_file"},
	}
	resp, err := c.get(ctx, "/api/formversions/", query)
	if err != nil {
		return "", err
	}
	defer drain(resp)

	if resp.StatusCode != http.StatusOK {
		return "", apiError(resp)
	}

	var payload struct {
		FormVersions []struct {
			XLSFile string `json:"xls_file"`
		} `json:"form_versions"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("invalid form versions response: %w", err)
	}
	for _, version := range payload.FormVersions {
		if version.XLSFile != "" {
			return version.XLSFile, nil
		}
	}
	return "", nil
}

// LatestVersionFileURL returns the XLSForm workbook URL for the form's
// latest version.
func (c *Client) LatestVersionFileURL(ctx context.Context, formID int64) (string, string, error) {
	query := url.Values{"fields": {"latest_form_version"}}
	resp, err := c.get(ctx, fmt.Sprintf("/api/forms/%d", formID), query)
	if err != nil {
		return "", "", err
	}
	defer drain(resp)

	if resp.StatusCode == http.StatusNotFound {
		return "", "", fmt.Errorf("%w: form %d", ErrFormNotFound, formID)
	}
	if resp.StatusCode != http.StatusOK {
		return "", "", apiError(resp)
	}

	var payload struct {
		LatestFormVersion struct {
			VersionID string `json:"version_id"`
			XLSFile   string `json:"xls_file"`
		} `json:"latest_form_version"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", "", fmt.Errorf("invalid form response: %w", err)
	}
	return payload.LatestFormVersion.VersionID, payload.LatestFormVersion.XLSFile, nil
}

// Download fetches an absolute URL, typically the XLSForm workbook hosted
// on the platform's media storage.
func (c *Client) Download(ctx context.Context, fileURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fileURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", fileURL, err)
	}
	defer drain(resp)

	if resp.StatusCode != http.StatusOK {
		return nil, apiError(resp)
	}
	return io.ReadAll(resp.Body)
}

// InstanceMetadata is the payload for the instance pre-registration call.
type InstanceMetadata struct {
	ID        string   `json:"id"`
	OrgUnitID int64    `json:"orgUnitId"`
	FormID    int64    `json:"formId"`
	CreatedAt int64    `json:"created_at"`
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
	Altitude  float64  `json:"altitude"`
	Accuracy  float64  `json:"accuracy"`
	File      string   `json:"file"`
	Name      string   `json:"name"`
	Period    int      `json:"period"`
}

// CreateInstance registers instance metadata ahead of the document upload.
// The endpoint accepts an array; each row is sent as a single-element
// batch because rows are independent units of work.
func (c *Client) CreateInstance(ctx context.Context, appID string, meta InstanceMetadata) error {
	body, err := json.Marshal([]InstanceMetadata{meta})
	if err != nil {
		return err
	}

	query := url.Values{"app_id": {appID}}
	resp, err := c.request(ctx, http.MethodPost, "/api/instances", query, bytes.NewReader(body), "application/json", true)
	if err != nil {
		return err
	}
	defer drain(resp)

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return apiError(resp)
	}
	return nil
}

// UploadSubmission posts the document as the multipart field the sync
// endpoint expects. Success is strictly 201.
func (c *Client) UploadSubmission(ctx context.Context, fileName string, xml []byte) error {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("xml_submission_file", fileName)
	if err != nil {
		return err
	}
	if _, err := part.Write(xml); err != nil {
		return err
	}
	if err := writer.Close(); err != nil {
		return err
	}

	resp, err := c.request(ctx, http.MethodPost, "/sync/form_upload/", nil, &buf, writer.FormDataContentType(), true)
	if err != nil {
		return err
	}
	defer drain(resp)

	if resp.StatusCode != http.StatusCreated {
		return apiError(resp)
	}
	return nil
}

// InstancePatch is the partial update sent before an edit handshake.
type InstancePatch struct {
	OrgUnitID *int64   `json:"org_unit,omitempty"`
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`
	Altitude  *float64 `json:"altitude,omitempty"`
	Accuracy  *float64 `json:"accuracy,omitempty"`
}

// PatchInstance updates the org unit or location of an existing instance.
func (c *Client) PatchInstance(ctx context.Context, instanceID int64, patch InstancePatch) error {
	body, err := json.Marshal(patch)
	if err != nil {
		return err
	}

	resp, err := c.request(ctx, http.MethodPatch, fmt.Sprintf("/api/instances/%d/", instanceID), nil, bytes.NewReader(body), "application/json", true)
	if err != nil {
		return err
	}
	defer drain(resp)

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return apiError(resp)
	}
	return nil
}

// EditSession authorizes replacing an existing instance's document.
type EditSession struct {
	URL   string `json:"edit_url"`
	Token string `json:"token"`
}

// GetEditSession requests an edit token for the instance. A locked
// instance returns ErrLockedInstance before any write happens.
func (c *Client) GetEditSession(ctx context.Context, instanceUUID string) (EditSession, error) {
	resp, err := c.get(ctx, fmt.Sprintf("/api/enketo/edit/%s/", instanceUUID), nil)
	if err != nil {
		return EditSession{}, err
	}
	defer drain(resp)

	if resp.StatusCode == http.StatusConflict || resp.StatusCode == http.StatusForbidden {
		body := readBody(resp)
		if strings.Contains(strings.ToLower(body), "lock") {
			return EditSession{}, ErrLockedInstance
		}
		return EditSession{}, &APIError{Method: http.MethodGet, Path: resp.Request.URL.Path, StatusCode: resp.StatusCode, Body: body}
	}
	if resp.StatusCode != http.StatusOK {
		return EditSession{}, apiError(resp)
	}

	var payload struct {
		EditURL string `json:"edit_url"`
		Token   string `json:"token"`
		Locked  bool   `json:"locked"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return EditSession{}, fmt.Errorf("invalid edit session response: %w", err)
	}
	if payload.Locked {
		return EditSession{}, ErrLockedInstance
	}
	if payload.EditURL == "" {
		return EditSession{}, errors.New("edit session response missing edit_url")
	}
	return EditSession{URL: payload.EditURL, Token: payload.Token}, nil
}

// SubmitEdit posts the replacement document to the URL returned with the
// edit token.
func (c *Client) SubmitEdit(ctx context.Context, session EditSession, fileName string, xml []byte) error {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("xml_submission_file", fileName)
	if err != nil {
		return err
	}
	if _, err := part.Write(xml); err != nil {
		return err
	}
	if err := writer.Close(); err != nil {
		return err
	}

	target := strings.TrimRight(session.URL, "/") + "/submission/" + session.Token
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("submit edit: %w", err)
	}
	defer drain(resp)

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return apiError(resp)
	}
	return nil
}

// DeleteInstance removes an instance by its numeric id.
func (c *Client) DeleteInstance(ctx context.Context, instanceID int64) error {
	resp, err := c.request(ctx, http.MethodDelete, fmt.Sprintf("/api/instances/%d", instanceID), nil, nil, "", true)
	if err != nil {
		return err
	}
	defer drain(resp)

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated, http.StatusNoContent:
		return nil
	}
	return apiError(resp)
}

func (c *Client) get(ctx context.Context, path string, query url.Values) (*http.Response, error) {
	return c.request(ctx, http.MethodGet, path, query, nil, "", true)
}

func (c *Client) request(ctx context.Context, method, path string, query url.Values, body io.Reader, contentType string, authed bool) (*http.Response, error) {
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if authed && c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	return resp, nil
}

func apiError(resp *http.Response) error {
	return &APIError{
		Method:     resp.Request.Method,
		Path:       resp.Request.URL.Path,
		StatusCode: resp.StatusCode,
		Body:       readBody(resp),
	}
}

func readBody(resp *http.Response) string {
	const maxLen = 512
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxLen))
	if err != nil {
		return ""
	}
	return string(data)
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
}

// userIDFromToken extracts the user id claim from a JWT without verifying
// it; the platform already authenticated the credentials.
func userIDFromToken(token string) string {
	parts := strings.Split(token, ".")
	if len(parts) < 2 {
		return ""
	}
	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return ""
	}
	var claims map[string]any
	if err := json.Unmarshal(payload, &claims); err != nil {
		return ""
	}
	for _, key := range []string{"user_id", "id", "sub"} {
		switch v := claims[key].(type) {
		case string:
			if v != "" {
				return v
			}
		case float64:
			return strconv.FormatInt(int64(v), 10)
		}
	}
	return ""
}
