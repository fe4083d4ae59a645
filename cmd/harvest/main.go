// The harvest command downloads the current world snapshot from the
// netatmo API, strips records without a location, and archives the result
// as a gzip-compressed JSON object in S3 under the usual key naming.
package main

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/m-lab/go/flagx"
	"github.com/m-lab/go/rtx"

	"github.com/weatherlab/netatmo-etl/creds"
	"github.com/weatherlab/netatmo-etl/etl"
	"github.com/weatherlab/netatmo-etl/storage"
)

const requestTemplate = "https://api.netatmo.net/api/getallweatherdata?key=%s"

var (
	credsFile  = flag.String("credentials", "config/AWS_key", "Path to the AWS credentials file")
	apiKeyFile = flag.String("api_key", "config/api_key", "Path to the netatmo API key file")
	keyPrefix  = flag.String("key_prefix", "data/", "Object key prefix for the archive")
	apiURL     = flag.String("api_url", "", "Override the netatmo API endpoint, for testing")
	timeout    = flag.Duration("timeout", 5*time.Minute, "HTTP request timeout")
)

func init() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
}

func loadAPIKey(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	key := strings.TrimSpace(strings.SplitN(string(data), "\n", 2)[0])
	if key == "" {
		return "", fmt.Errorf("empty API key in %s", path)
	}
	return key, nil
}

// harvest fetches the snapshot and returns the filtered record list as
// uncompressed JSON.
func harvest(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	queryStart := time.Now()
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("downloading world data: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("downloading world data: status %s", resp.Status)
	}
	content, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	log.Printf("Total query time: %v", time.Since(queryStart))

	var points []map[string]json.RawMessage
	if err := json.Unmarshal(content, &points); err != nil {
		return nil, fmt.Errorf("parsing world data: %w", err)
	}
	filtered := points[:0]
	for _, point := range points {
		if _, ok := point["location"]; !ok {
			continue
		}
		filtered = append(filtered, point)
	}
	return json.Marshal(filtered)
}

func compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write(data); err != nil {
		return nil, err
	}
	if err := gz.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func main() {
	flag.Parse()
	rtx.Must(flagx.ArgsFromEnv(flag.CommandLine), "Could not parse flags")

	url := *apiURL
	if url == "" {
		key, err := loadAPIKey(*apiKeyFile)
		rtx.Must(err, "Could not load API key")
		url = fmt.Sprintf(requestTemplate, key)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	data, err := harvest(ctx, url)
	rtx.Must(err, "Harvest failed")

	compressed, err := compress(data)
	rtx.Must(err, "Compression failed")

	src := storage.NewS3Source(creds.FileProvider{Path: *credsFile})
	src.Prefix = *keyPrefix

	archiveKey := etl.ArchiveKey(time.Now().UTC().Truncate(10 * time.Minute))
	log.Printf("Writing %s to S3..", archiveKey)
	writeStart := time.Now()
	rtx.Must(src.Store(ctx, archiveKey, compressed), "Could not store archive")
	log.Printf("Total write time: %v", time.Since(writeStart))
}
