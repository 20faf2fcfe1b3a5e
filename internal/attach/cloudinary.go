package attach

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// Cloudinary uploads through the signed REST API. References have the form
// "<resource_type>:<public_id>".
type Cloudinary struct {
	client    *resty.Client
	cloudName string
	apiKey    string
	apiSecret string
	folder    string
	now       func() time.Time
}

type cloudinaryUpload struct {
	PublicID         string `json:"public_id"`
	SecureURL        string `json:"secure_url"`
	Bytes            int64  `json:"bytes"`
	OriginalFilename string `json:"original_filename"`
	Format           string `json:"format"`
	ResourceType     string `json:"resource_type"`
}

type cloudinaryError struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

func NewCloudinary(cloudName, apiKey, apiSecret string) *Cloudinary {
	return &Cloudinary{
		client:    resty.New().SetBaseURL("https://api.cloudinary.com/v1_1").SetTimeout(60 * time.Second),
		cloudName: cloudName,
		apiKey:    apiKey,
		apiSecret: apiSecret,
		folder:    "galaxy-chat",
		now:       time.Now,
	}
}

// WithBaseURL points the client at another API root.
func (c *Cloudinary) WithBaseURL(u string) *Cloudinary {
	c.client.SetBaseURL(strings.TrimRight(u, "/"))
	return c
}

// sign implements Cloudinary's request signature: sorted key=value pairs
// joined by '&' with the secret appended, sha1 hex encoded.
func (c *Cloudinary) sign(params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+params[k])
	}
	sum := sha1.Sum([]byte(strings.Join(parts, "&") + c.apiSecret))
	return hex.EncodeToString(sum[:])
}

func resourceType(mimeType string) string {
	if Kind(mimeType) == "image" {
		return "image"
	}
	return "raw"
}

func (c *Cloudinary) signed(params map[string]string) map[string]string {
	params["timestamp"] = strconv.FormatInt(c.now().Unix(), 10)
	form := map[string]string{"signature": c.sign(params), "api_key": c.apiKey}
	for k, v := range params {
		form[k] = v
	}
	return form
}

func (c *Cloudinary) Upload(ctx context.Context, data []byte, mimeType, name string) (*Uploaded, error) {
	rt := resourceType(mimeType)
	var out cloudinaryUpload
	var apiErr cloudinaryError
	resp, err := c.client.R().
		SetContext(ctx).
		SetFileReader("file", name, bytes.NewReader(data)).
		SetFormData(c.signed(map[string]string{"folder": c.folder})).
		SetResult(&out).
		SetError(&apiErr).
		Post(fmt.Sprintf("/%s/%s/upload", c.cloudName, rt))
	if err != nil {
		return nil, fmt.Errorf("cloudinary upload: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("cloudinary upload: status %d: %s", resp.StatusCode(), apiErr.Error.Message)
	}

	u := &Uploaded{
		URL:      out.SecureURL,
		PublicID: rt + ":" + out.PublicID,
		Size:     out.Bytes,
		Name:     name,
	}
	if u.Size == 0 {
		u.Size = int64(len(data))
	}
	return u, nil
}

func (c *Cloudinary) Delete(ctx context.Context, ref string) error {
	rt, publicID, ok := strings.Cut(ref, ":")
	if !ok || publicID == "" || (rt != "image" && rt != "raw") {
		return fmt.Errorf("%w: %q", ErrBadRef, ref)
	}
	var out struct {
		Result string `json:"result"`
	}
	resp, err := c.client.R().
		SetContext(ctx).
		SetFormData(c.signed(map[string]string{"public_id": publicID})).
		SetResult(&out).
		Post(fmt.Sprintf("/%s/%s/destroy", c.cloudName, rt))
	if err != nil {
		return fmt.Errorf("cloudinary destroy: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("cloudinary destroy: status %d", resp.StatusCode())
	}
	if out.Result != "ok" && out.Result != "not found" {
		return fmt.Errorf("cloudinary destroy: %s", out.Result)
	}
	return nil
}
