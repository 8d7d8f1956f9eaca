package s3blob

import (
	"context"
	"testing"
)

func TestNormaliseEndpoint(t *testing.T) {
	tests := []struct {
		endpoint string
		useSSL   bool
		want     string
	}{
		{"https://s3.example.com", false, "https://s3.example.com"},
		{"http://minio:9000", true, "http://minio:9000"},
		{"minio:9000", false, "http://minio:9000"},
		{"e2.idrivee2.com", true, "https://e2.idrivee2.com"},
	}
	for _, tt := range tests {
		if got := normaliseEndpoint(tt.endpoint, tt.useSSL); got != tt.want {
			t.Errorf("normaliseEndpoint(%q, %v) = %q, want %q", tt.endpoint, tt.useSSL, got, tt.want)
		}
	}
}

func TestNew_Validation(t *testing.T) {
	ctx := context.Background()
	if _, err := New(ctx, ClientConfig{Region: "us-east-1"}); err == nil {
		t.Error("New() without bucket should fail")
	}
	if _, err := New(ctx, ClientConfig{Bucket: "prices"}); err == nil {
		t.Error("New() without region should fail")
	}

	c, err := New(ctx, ClientConfig{
		Endpoint:       "localhost:9000",
		Region:         "us-east-1",
		Bucket:         "prices",
		AccessKey:      "key",
		SecretKey:      "secret",
		ForcePathStyle: true,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if c.Bucket() != "prices" || c.S3() == nil {
		t.Errorf("client = %+v", c)
	}

	ss := NewSnapshotStore(c, "osrsprice/prices.json")
	if ss.bucket != "prices" || ss.key != "osrsprice/prices.json" {
		t.Errorf("snapshot store = %+v", ss)
	}
}
