package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"maps"
	"net/http"
	"net/url"
	"os"
	"slices"
	"time"

	"k8s.io/klog/v2"

	"k8s.io/examples/AI/modelpack/pkg/tensor"
)

func main() {
	ctx := context.Background()
	err := run(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	serverURL := "http://127.0.0.1:8080"
	inputs := ""
	attributes := ""
	showManifest := false
	timeout := time.Minute

	flag.StringVar(&serverURL, "server", serverURL, "base URL of the model server")
	flag.StringVar(&inputs, "inputs", inputs, `inputs as JSON, e.g. {"x":{"dtype":"float32","shape":[1,3],"data":[1,2,3]}}; @file reads a file`)
	flag.StringVar(&attributes, "attributes", attributes, "dynamic attributes as a JSON object; @file reads a file")
	flag.BoolVar(&showManifest, "manifest", showManifest, "print the served manifest instead of computing")
	flag.DurationVar(&timeout, "timeout", timeout, "request timeout")

	klog.InitFlags(nil)
	flag.Parse()

	log := klog.FromContext(ctx)

	base, err := url.Parse(serverURL)
	if err != nil {
		return fmt.Errorf("parsing server URL %q: %w", serverURL, err)
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	client := &modelClient{baseURL: base, httpClient: http.DefaultClient}

	if showManifest {
		b, err := client.get(ctx, "manifest")
		if err != nil {
			return err
		}
		var out bytes.Buffer
		if err := json.Indent(&out, b, "", "  "); err != nil {
			return fmt.Errorf("formatting manifest: %w", err)
		}
		fmt.Println(out.String())
		return nil
	}

	var request struct {
		Inputs            map[string]*tensor.Tensor `json:"inputs"`
		DynamicAttributes map[string]any            `json:"dynamic_attributes,omitempty"`
	}
	if err := decodeArg(inputs, &request.Inputs); err != nil {
		return fmt.Errorf("parsing -inputs: %w", err)
	}
	if attributes != "" {
		if err := decodeArg(attributes, &request.DynamicAttributes); err != nil {
			return fmt.Errorf("parsing -attributes: %w", err)
		}
	}

	log.Info("Starting modelclient", "server", serverURL, "inputs", len(request.Inputs))

	var response struct {
		Outputs map[string]*tensor.Tensor `json:"outputs"`
	}
	if err := client.post(ctx, "compute", request, &response); err != nil {
		return fmt.Errorf("failed to compute: %w", err)
	}
	for _, name := range slices.Sorted(maps.Keys(response.Outputs)) {
		t := response.Outputs[name]
		fmt.Printf("%s %s%v:\n%v\n", name, t.DType(), t.Shape(), t)
	}
	return nil
}

// decodeArg decodes a JSON flag value, reading it from a file when prefixed with @.
func decodeArg(arg string, v any) error {
	b := []byte(arg)
	if len(arg) > 0 && arg[0] == '@' {
		var err error
		b, err = os.ReadFile(arg[1:])
		if err != nil {
			return err
		}
	}
	if len(bytes.TrimSpace(b)) == 0 {
		return fmt.Errorf("value is required")
	}
	return json.Unmarshal(b, v)
}

type modelClient struct {
	baseURL    *url.URL
	httpClient *http.Client
}

func (c *modelClient) get(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL.JoinPath(path).String(), nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	return c.do(req)
}

func (c *modelClient) post(ctx context.Context, path string, body any, out any) error {
	b, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL.JoinPath(path).String(), bytes.NewReader(b))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	respBody, err := c.do(req)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

func (c *modelClient) do(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("doing request: %w", err)
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("server returned %s: %s", resp.Status, bytes.TrimSpace(b))
	}
	return b, nil
}
