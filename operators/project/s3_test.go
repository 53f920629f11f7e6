package project

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/apache/arrow/go/v17/arrow/memory"

	"geo-sparql-go/config"
	"geo-sparql-go/operators"
)

const remoteLandmarkCSV = "?name,?point1\n" +
	"uni,POINT(7.83505 48.01267)\n" +
	"eiffel,POINT(2.29451 48.85825)\n"

// fakeObjectStore serves one CSV object the way an S3 compatible store would:
// path style bucket/key, ranged GETs, HEAD for stats and the bucket location
// probe the client may issue first.
func fakeObjectStore(t *testing.T) *httptest.Server {
	t.Helper()
	modTime := time.Now()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := r.URL.Query()["location"]; ok {
			w.Header().Set("Content-Type", "application/xml")
			_, _ = io.WriteString(w, `<?xml version="1.0" encoding="UTF-8"?>`+
				`<LocationConstraint xmlns="http://s3.amazonaws.com/doc/2006-03-01/">us-east-1</LocationConstraint>`)
			return
		}
		if r.URL.Path != "/datasets/landmarks.csv" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("ETag", `"fake-etag"`)
		http.ServeContent(w, r, "landmarks.csv", modTime, strings.NewReader(remoteLandmarkCSV))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func setObjectStoreEnv(t *testing.T, serverURL string) {
	t.Helper()
	t.Setenv("OBJECT_STORE_ACCESS_KEY", "test-access")
	t.Setenv("OBJECT_STORE_SECRET_KEY", "test-secret")
	t.Setenv("OBJECT_STORE_ENDPOINT", strings.TrimPrefix(serverURL, "http://"))
	t.Setenv("OBJECT_STORE_BUCKET", "datasets")
	t.Setenv("OBJECT_STORE_USE_SSL", "false")
	config.LoadSecrets()
}

func TestCSVFromObjectStore(t *testing.T) {
	srv := fakeObjectStore(t)
	setObjectStoreEnv(t, srv.URL)

	src, err := NewCSVFromObjectStore("landmarks.csv")
	if err != nil {
		t.Fatal(err)
	}
	if key := src.CacheKey(); !strings.Contains(key, "s3://datasets/landmarks.csv") {
		t.Fatalf("cache key %q does not name the remote object", key)
	}
	vars := src.VariableColumns()
	if _, ok := vars["?point1"]; !ok {
		t.Fatalf("variable map %+v is missing ?point1", vars)
	}

	all, err := operators.Materialize(context.Background(), src, memory.NewGoAllocator())
	if err != nil {
		t.Fatal(err)
	}
	if all.RowCount != 2 {
		t.Fatalf("read %d rows, want 2", all.RowCount)
	}
	if got := all.Columns[0].ValueStr(0); got != "uni" {
		t.Fatalf("first name = %q", got)
	}
	if got := all.Columns[1].ValueStr(1); got != "POINT(2.29451 48.85825)" {
		t.Fatalf("second point = %q", got)
	}
}

func TestCSVFromObjectStoreMissingObject(t *testing.T) {
	srv := fakeObjectStore(t)
	setObjectStoreEnv(t, srv.URL)

	src, err := NewCSVFromObjectStore("no-such-object.csv")
	if err == nil {
		// minio streams lazily, so the miss may only surface on first read
		_, err = operators.Materialize(context.Background(), src, memory.NewGoAllocator())
	}
	if err == nil {
		t.Fatal("a missing object was served")
	}
}

func TestNetworkResourceSeekAndReadAt(t *testing.T) {
	srv := fakeObjectStore(t)
	setObjectStoreEnv(t, srv.URL)

	res, err := NewStreamReader("landmarks.csv")
	if err != nil {
		t.Fatal(err)
	}
	size, err := res.Seek(0, io.SeekEnd)
	if err != nil {
		t.Fatal(err)
	}
	if size != int64(len(remoteLandmarkCSV)) {
		t.Fatalf("SeekEnd reported %d bytes, want %d", size, len(remoteLandmarkCSV))
	}
	if _, err := res.Seek(0, io.SeekCurrent); err == nil {
		t.Fatal("SeekCurrent is unsupported and should fail")
	}

	// ranged read somewhere in the middle of the object
	buf := make([]byte, 6)
	if _, err := res.ReadAt(buf, 2); err != nil {
		t.Fatal(err)
	}
	if got, want := string(buf), remoteLandmarkCSV[2:8]; got != want {
		t.Fatalf("ReadAt(2) = %q, want %q", got, want)
	}
}
