package security

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/url"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"unicode"
)

// ErrBodyTooLarge is returned when a body exceeds the configured scan limit
var ErrBodyTooLarge = errors.New("request body too large")

// SanitizerConfig controls which inputs are scanned
type SanitizerConfig struct {
	MaxBodyBytes      int64
	ScanHeaders       []string
	SkipFields        []string // compared case-insensitively; values are never scanned or rewritten
	AllowedExtensions []string
	MaxFilenameLength int
}

// DefaultSanitizerConfig returns the default scanning policy
func DefaultSanitizerConfig() SanitizerConfig {
	return SanitizerConfig{
		MaxBodyBytes: 1 << 20,
		ScanHeaders:  []string{"User-Agent", "Referer", "X-Requested-With", "X-Forwarded-Host"},
		SkipFields: []string{
			"password", "currentPassword", "newPassword", "confirmPassword", "password_confirmation",
			"refreshToken", "refresh_token", "token",
		},
		AllowedExtensions: []string{
			".jpg", ".jpeg", ".png", ".gif", ".webp", ".pdf", ".txt", ".csv", ".doc", ".docx", ".xls", ".xlsx",
		},
		MaxFilenameLength: 255,
	}
}

// Finding records one matched input
type Finding struct {
	Location string `json:"location"` // body, query, form, header or file
	Field    string `json:"field"`
	Category string `json:"category"`
}

// SanitizeResult is the outcome of scanning a request. Blocked requests must be rejected;
// otherwise Modified reports whether any input was rewritten in place.
type SanitizeResult struct {
	Blocked  bool
	Reason   string
	Modified bool
	Findings []Finding
}

func (r *SanitizeResult) add(location, field, category string) {
	r.Findings = append(r.Findings, Finding{Location: location, Field: field, Category: category})
}

func (r *SanitizeResult) block(location, field, category string) {
	r.add(location, field, category)
	if !r.Blocked {
		r.Blocked = true
		r.Reason = category
	}
}

// Sanitizer strips markup and traversal fragments from request input and
// blocks SQL and shell injection attempts
type Sanitizer struct {
	cfg        SanitizerConfig
	skip       map[string]struct{}
	extensions map[string]struct{}
}

// NewSanitizer creates a new Sanitizer
func NewSanitizer(cfg SanitizerConfig) *Sanitizer {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}
	if cfg.MaxFilenameLength <= 0 {
		cfg.MaxFilenameLength = 255
	}

	s := &Sanitizer{
		cfg:        cfg,
		skip:       make(map[string]struct{}, len(cfg.SkipFields)),
		extensions: make(map[string]struct{}, len(cfg.AllowedExtensions)),
	}
	for _, f := range cfg.SkipFields {
		s.skip[strings.ToLower(f)] = struct{}{}
	}
	for _, e := range cfg.AllowedExtensions {
		s.extensions[strings.ToLower(e)] = struct{}{}
	}
	return s
}

func (s *Sanitizer) skipField(name string) bool {
	_, ok := s.skip[strings.ToLower(name)]
	return ok
}

// SanitizeString checks one value. Blocking categories are reported without
// rewriting; otherwise XSS and traversal fragments are removed until none remain.
func (s *Sanitizer) SanitizeString(value string) (clean string, categories []string, blocked bool) {
	if matchesAny(sqlInjectionPatterns, value) {
		categories = append(categories, CategorySQLInjection)
		blocked = true
	}
	if matchesAny(commandInjectionPatterns, value) {
		categories = append(categories, CategoryCommandInjection)
		blocked = true
	}
	if blocked {
		return value, categories, true
	}

	clean = value
	// Nested payloads like "<scr<script>ipt>" reassemble after one pass
	for i := 0; i < 5; i++ {
		next := clean
		if matchesAny(xssPatterns, next) {
			next = stripAll(xssPatterns, next)
			if !slices.Contains(categories, CategoryXSS) {
				categories = append(categories, CategoryXSS)
			}
		}
		if matchesAny(pathTraversalPatterns, next) {
			next = stripAll(pathTraversalPatterns, next)
			if !slices.Contains(categories, CategoryPathTraversal) {
				categories = append(categories, CategoryPathTraversal)
			}
		}
		if next == clean {
			break
		}
		clean = next
	}
	return clean, categories, false
}

// scan applies SanitizeString and records the findings. Returns the replacement value.
func (s *Sanitizer) scan(result *SanitizeResult, location, field, value string) string {
	clean, categories, blocked := s.SanitizeString(value)
	for _, c := range categories {
		if blocked {
			result.block(location, field, c)
		} else {
			result.add(location, field, c)
		}
	}
	if !blocked && clean != value {
		result.Modified = true
	}
	return clean
}

// SanitizeRequest scans query, selected headers and body. Sanitized values are
// written back to the request so downstream handlers only see the clean input.
func (s *Sanitizer) SanitizeRequest(r *http.Request) (SanitizeResult, error) {
	var result SanitizeResult

	s.sanitizeQuery(r, &result)
	if result.Blocked {
		return result, nil
	}

	for _, name := range s.cfg.ScanHeaders {
		value := r.Header.Get(name)
		if value == "" {
			continue
		}
		if clean := s.scan(&result, "header", name, value); clean != value && !result.Blocked {
			r.Header.Set(name, clean)
		}
		if result.Blocked {
			return result, nil
		}
	}

	if r.Body == nil || r.Body == http.NoBody {
		return result, nil
	}

	switch r.Method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return result, nil
	}

	mediaType, params, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch {
	case mediaType == "application/json" || strings.HasSuffix(mediaType, "+json"):
		return result, s.sanitizeJSON(r, &result)
	case mediaType == "application/x-www-form-urlencoded":
		return result, s.sanitizeForm(r, &result)
	case mediaType == "multipart/form-data":
		return result, s.inspectMultipart(r, params["boundary"], &result)
	}

	return result, nil
}

func (s *Sanitizer) sanitizeQuery(r *http.Request, result *SanitizeResult) {
	if r.URL.RawQuery == "" {
		return
	}

	query := r.URL.Query()
	changed := false
	for key, values := range query {
		if s.skipField(key) {
			continue
		}
		for i, v := range values {
			clean := s.scan(result, "query", key, v)
			if result.Blocked {
				return
			}
			if clean != v {
				values[i] = clean
				changed = true
			}
		}
	}
	if changed {
		r.URL.RawQuery = query.Encode()
	}
}

func (s *Sanitizer) readBody(r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, s.cfg.MaxBodyBytes+1))
	_ = r.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("failed to read request body: %w", err)
	}
	if int64(len(body)) > s.cfg.MaxBodyBytes {
		return nil, ErrBodyTooLarge
	}
	return body, nil
}

func replaceBody(r *http.Request, body []byte) {
	r.Body = io.NopCloser(bytes.NewReader(body))
	r.ContentLength = int64(len(body))
	r.Header.Set("Content-Length", strconv.Itoa(len(body)))
}

func (s *Sanitizer) sanitizeJSON(r *http.Request, result *SanitizeResult) error {
	body, err := s.readBody(r)
	if err != nil {
		return err
	}
	replaceBody(r, body)
	if len(bytes.TrimSpace(body)) == 0 {
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		// Malformed JSON is left for the handler to reject
		return nil
	}

	before := result.Modified
	result.Modified = false
	clean := s.walk(result, "", doc)
	changed := result.Modified
	result.Modified = before || changed
	if result.Blocked || !changed {
		return nil
	}

	out, err := json.Marshal(clean)
	if err != nil {
		return fmt.Errorf("failed to re-encode sanitized body: %w", err)
	}
	replaceBody(r, out)
	return nil
}

// walk sanitizes every string in a decoded JSON document
func (s *Sanitizer) walk(result *SanitizeResult, path string, v any) any {
	if result.Blocked {
		return v
	}

	switch val := v.(type) {
	case string:
		return s.scan(result, "body", path, val)
	case map[string]any:
		for key, child := range val {
			if s.skipField(key) {
				continue
			}
			val[key] = s.walk(result, joinPath(path, key), child)
		}
		return val
	case []any:
		for i, child := range val {
			val[i] = s.walk(result, path+"["+strconv.Itoa(i)+"]", child)
		}
		return val
	default:
		return v
	}
}

func joinPath(parent, key string) string {
	if parent == "" {
		return key
	}
	return parent + "." + key
}

func (s *Sanitizer) sanitizeForm(r *http.Request, result *SanitizeResult) error {
	body, err := s.readBody(r)
	if err != nil {
		return err
	}
	replaceBody(r, body)

	form, err := url.ParseQuery(string(body))
	if err != nil {
		return nil
	}

	changed := false
	for key, values := range form {
		if s.skipField(key) {
			continue
		}
		for i, v := range values {
			clean := s.scan(result, "form", key, v)
			if result.Blocked {
				return nil
			}
			if clean != v {
				values[i] = clean
				changed = true
			}
		}
	}
	if changed {
		replaceBody(r, []byte(form.Encode()))
	}
	return nil
}

// inspectMultipart validates file names and scans text fields. Multipart
// bodies are never rewritten; a match that would be stripped elsewhere blocks here.
func (s *Sanitizer) inspectMultipart(r *http.Request, boundary string, result *SanitizeResult) error {
	body, err := s.readBody(r)
	if err != nil {
		return err
	}
	replaceBody(r, body)
	if boundary == "" {
		return nil
	}

	reader := multipart.NewReader(bytes.NewReader(body), boundary)
	for {
		part, err := reader.NextPart()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return nil
		}

		if name := part.FileName(); name != "" {
			if err := s.ValidateFilename(name); err != nil {
				result.block("file", part.FormName(), "invalid_filename")
				return nil
			}
			continue
		}

		if s.skipField(part.FormName()) {
			continue
		}
		value, err := io.ReadAll(part)
		if err != nil {
			return nil
		}
		_, categories, blocked := s.SanitizeString(string(value))
		for _, c := range categories {
			result.block("form", part.FormName(), c)
		}
		if blocked || len(categories) > 0 {
			return nil
		}
	}
}

// ValidateFilename rejects path separators, traversal, control characters and
// extensions outside the allow-list
func (s *Sanitizer) ValidateFilename(name string) error {
	if name == "" || len(name) > s.cfg.MaxFilenameLength {
		return fmt.Errorf("invalid filename length")
	}
	if strings.ContainsAny(name, `/\`) || strings.Contains(name, "..") {
		return fmt.Errorf("filename contains path characters")
	}
	for _, r := range name {
		if unicode.IsControl(r) {
			return fmt.Errorf("filename contains control characters")
		}
	}
	if strings.ContainsAny(name, `<>:"|?*`) {
		return fmt.Errorf("filename contains reserved characters")
	}

	ext := strings.ToLower(filepath.Ext(name))
	if _, ok := s.extensions[ext]; !ok {
		return fmt.Errorf("file extension %q not allowed", ext)
	}

	// "shell.php.jpg" style double extensions
	base := strings.TrimSuffix(strings.ToLower(name), ext)
	for _, bad := range dangerousExtensions {
		if strings.HasSuffix(base, bad) {
			return fmt.Errorf("file has a hidden executable extension")
		}
	}
	return nil
}

var dangerousExtensions = []string{
	".php", ".phtml", ".asp", ".aspx", ".jsp", ".cgi", ".exe", ".bat", ".cmd", ".sh", ".ps1", ".js", ".html", ".htm", ".svg",
}
