package thumbs

import (
	"context"
	"errors"
	nethttp "net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/rescale/rescale-gallery/internal/config"
	"github.com/rescale/rescale-gallery/internal/models"
	"github.com/rescale/rescale-gallery/internal/services"
)

func TestObjectKey(t *testing.T) {
	tests := []struct {
		prefix string
		tier   string
		id     models.ListingID
		want   string
	}{
		{"", "thumbnail", "a.jpg", "_thumbs/thumbnail/a.jpg"},
		{"media", "medium", "trips/b.jpg", "media/_thumbs/medium/trips/b.jpg"},
		{"/media/", "full", "/c.jpg", "media/_thumbs/full/c.jpg"},
	}
	for _, tt := range tests {
		if got := ObjectKey(tt.prefix, tt.tier, tt.id); got != tt.want {
			t.Errorf("ObjectKey(%q, %q, %q) = %q, want %q", tt.prefix, tt.tier, tt.id, got, tt.want)
		}
	}
}

func testConfig() *config.Config {
	cfg := config.NewConfig()
	cfg.ProxyMode = "no-proxy"
	return cfg
}

func s3Config(endpoint string) *config.Config {
	cfg := testConfig()
	cfg.Thumbnails = config.ThumbnailConfig{
		Source:          config.SourceS3,
		Bucket:          "gallery",
		Region:          "us-east-1",
		Endpoint:        endpoint,
		AccessKeyID:     "AKIDEXAMPLE",
		SecretAccessKey: "secret",
		Prefix:          "media",
	}
	return cfg
}

func TestFactorySelectsSource(t *testing.T) {
	server := services.ThumbnailFunc(func(ctx context.Context, ref models.RecordRef, tier int) (string, error) {
		return "server", nil
	})

	svc, err := NewThumbnailService(context.Background(), testConfig(), server)
	if err != nil {
		t.Fatalf("api source: %v", err)
	}
	if src, _ := svc.FetchImage(context.Background(), models.RecordRef{ID: "a"}, 0); src != "server" {
		t.Errorf("api source returned %q", src)
	}

	if _, err := NewThumbnailService(context.Background(), testConfig(), nil); err == nil {
		t.Error("api source without a server should fail")
	}

	svc, err = NewThumbnailService(context.Background(), s3Config("http://127.0.0.1:9000"), nil)
	if err != nil {
		t.Fatalf("s3 source: %v", err)
	}
	if _, ok := svc.(*S3Source); !ok {
		t.Errorf("s3 source = %T", svc)
	}

	cfg := testConfig()
	cfg.Thumbnails.Source = config.SourceAzure
	cfg.Thumbnails.ContainerURL = "https://acct.blob.core.windows.net/gallery?sv=2022-11-02&sig=abc"
	svc, err = NewThumbnailService(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("azure source: %v", err)
	}
	if _, ok := svc.(*AzureSource); !ok {
		t.Errorf("azure source = %T", svc)
	}

	cfg = testConfig()
	cfg.Thumbnails.Source = "ftp"
	if _, err := NewThumbnailService(context.Background(), cfg, nil); !errors.Is(err, config.ErrInvalidSource) {
		t.Errorf("unknown source error = %v", err)
	}
}

func TestS3SourceRequiresBucket(t *testing.T) {
	cfg := s3Config("")
	cfg.Thumbnails.Bucket = ""
	if _, err := NewS3Source(context.Background(), cfg); !errors.Is(err, config.ErrMissingBucket) {
		t.Errorf("error = %v, want ErrMissingBucket", err)
	}
}

func TestS3SourcePresigns(t *testing.T) {
	src, err := NewS3Source(context.Background(), s3Config("http://127.0.0.1:9000"))
	if err != nil {
		t.Fatal(err)
	}

	got, err := src.FetchImage(context.Background(), models.RecordRef{ID: "a.jpg"}, 1)
	if err != nil {
		t.Fatalf("FetchImage() error: %v", err)
	}

	u, err := url.Parse(got)
	if err != nil {
		t.Fatalf("presigned URL %q: %v", got, err)
	}
	if u.Path != "/gallery/media/_thumbs/medium/a.jpg" {
		t.Errorf("path = %q", u.Path)
	}
	if u.Query().Get("X-Amz-Signature") == "" {
		t.Errorf("URL %q is not signed", got)
	}
	if !strings.Contains(u.Query().Get("X-Amz-Credential"), "AKIDEXAMPLE") {
		t.Errorf("credential = %q", u.Query().Get("X-Amz-Credential"))
	}

	if _, err := src.FetchImage(context.Background(), models.RecordRef{ID: "a.jpg"}, 9); !errors.Is(err, ErrUnknownTier) {
		t.Errorf("error = %v, want ErrUnknownTier", err)
	}
	if _, err := src.FetchImage(context.Background(), models.RecordRef{ID: "../secrets/key.pem"}, 0); err == nil {
		t.Error("an id walking out of the prefix should be rejected")
	}
}

func TestS3SourceVerify(t *testing.T) {
	var heads atomic.Int32
	server := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
		if r.Method != nethttp.MethodHead {
			t.Errorf("method = %s", r.Method)
		}
		heads.Add(1)
		if strings.HasSuffix(r.URL.Path, "/missing.jpg") {
			w.WriteHeader(nethttp.StatusNotFound)
			return
		}
		w.WriteHeader(nethttp.StatusOK)
	}))
	defer server.Close()

	cfg := s3Config(server.URL)
	cfg.Thumbnails.Verify = true
	src, err := NewS3Source(context.Background(), cfg)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := src.FetchImage(context.Background(), models.RecordRef{ID: "a.jpg"}, 0); err != nil {
		t.Errorf("present object: %v", err)
	}
	if _, err := src.FetchImage(context.Background(), models.RecordRef{ID: "missing.jpg"}, 0); !errors.Is(err, ErrThumbnailMissing) {
		t.Errorf("missing object error = %v", err)
	}
	if heads.Load() != 2 {
		t.Errorf("HEAD requests = %d, want 2", heads.Load())
	}
}

func TestAzureSourceKeepsSAS(t *testing.T) {
	cfg := testConfig()
	cfg.Thumbnails.ContainerURL = "https://acct.blob.core.windows.net/gallery?sv=2022-11-02&sig=abc"
	src, err := NewAzureSource(cfg)
	if err != nil {
		t.Fatal(err)
	}

	got, err := src.FetchImage(context.Background(), models.RecordRef{ID: "a.jpg"}, 2)
	if err != nil {
		t.Fatalf("FetchImage() error: %v", err)
	}
	u, err := url.Parse(got)
	if err != nil {
		t.Fatal(err)
	}
	if u.Host != "acct.blob.core.windows.net" || u.Path != "/gallery/_thumbs/full/a.jpg" {
		t.Errorf("URL = %q", got)
	}
	if u.Query().Get("sig") != "abc" {
		t.Errorf("SAS dropped from %q", got)
	}
}

func TestAzureSourceRequiresContainerURL(t *testing.T) {
	if _, err := NewAzureSource(testConfig()); !errors.Is(err, config.ErrMissingContainerURL) {
		t.Errorf("error = %v, want ErrMissingContainerURL", err)
	}
}
