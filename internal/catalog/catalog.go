// Package catalog loads recipe definitions and their subscriptions from YAML.
package catalog

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"gopkg.in/yaml.v3"

	"report-dispatcher/internal/recipe"
)

//go:embed recipes/*.yaml
var defaults embed.FS

// Subscription is a standing request executed on a period.
type Subscription struct {
	Name       string             `yaml:"name"`
	Period     string             `yaml:"period"`
	Active     bool               `yaml:"active"`
	Criteria   []recipe.Criterion `yaml:"criteria"`
	Recipients []recipe.Recipient `yaml:"recipients"`
}

// Entry is one recipe file: the definition plus its subscriptions.
type Entry struct {
	recipe.Definition `yaml:",inline"`
	Subscriptions     []Subscription `yaml:"subscriptions,omitempty"`
}

// Catalog is an immutable set of entries keyed by recipe id.
type Catalog struct {
	entries map[string]Entry
}

// New builds a catalog. Later entries replace earlier ones with the same id.
func New(entries ...Entry) *Catalog {
	c := &Catalog{entries: make(map[string]Entry, len(entries))}
	for _, e := range entries {
		c.entries[e.ID] = e
	}
	return c
}

// Lookup returns the definition for id.
func (c *Catalog) Lookup(id string) (recipe.Definition, bool) {
	e, ok := c.entries[id]
	return e.Definition, ok
}

// Entries returns every entry sorted by id.
func (c *Catalog) Entries() []Entry {
	out := make([]Entry, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Len is the number of recipes.
func (c *Catalog) Len() int { return len(c.entries) }

// Parse decodes one recipe document. Unknown fields are rejected.
func Parse(name string, data []byte) (Entry, error) {
	var e Entry
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&e); err != nil {
		return Entry{}, fmt.Errorf("parse %s: %w", name, err)
	}
	if err := e.Validate(); err != nil {
		return Entry{}, fmt.Errorf("%s: %w", name, err)
	}
	for i, s := range e.Subscriptions {
		if strings.TrimSpace(s.Name) == "" {
			return Entry{}, fmt.Errorf("%s: subscription %d: name is required", name, i)
		}
	}
	return e, nil
}

// LoadEmbedded returns the recipes compiled into the binary.
func LoadEmbedded() ([]Entry, error) {
	return loadFS(defaults, "recipes")
}

// LoadDir reads every *.yaml and *.yml file directly under dir.
func LoadDir(dir string) ([]Entry, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("recipe directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("recipe directory: %s is not a directory", dir)
	}
	return loadFS(os.DirFS(dir), ".")
}

func loadFS(fsys fs.FS, root string) ([]Entry, error) {
	dirEntries, err := fs.ReadDir(fsys, root)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", root, err)
	}
	var out []Entry
	for _, de := range dirEntries {
		if de.IsDir() || !isYAML(de.Name()) {
			continue
		}
		p := path.Join(root, de.Name())
		data, err := fs.ReadFile(fsys, p)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", p, err)
		}
		e, err := Parse(filepath.Base(p), data)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

func isYAML(name string) bool {
	ext := strings.ToLower(path.Ext(name))
	return ext == ".yaml" || ext == ".yml"
}

// S3API is the subset of the S3 client used to read recipes.
type S3API interface {
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// ParseS3URI splits s3://bucket/prefix.
func ParseS3URI(uri string) (bucket, prefix string, err error) {
	rest, ok := strings.CutPrefix(uri, "s3://")
	if !ok {
		return "", "", fmt.Errorf("recipe uri %q: scheme must be s3", uri)
	}
	bucket, prefix, _ = strings.Cut(rest, "/")
	if bucket == "" {
		return "", "", fmt.Errorf("recipe uri %q: bucket is required", uri)
	}
	return bucket, prefix, nil
}

// LoadS3 reads every YAML object under uri.
func LoadS3(ctx context.Context, client S3API, uri string) ([]Entry, error) {
	bucket, prefix, err := ParseS3URI(uri)
	if err != nil {
		return nil, err
	}

	var out []Entry
	paginator := s3.NewListObjectsV2Paginator(client, &s3.ListObjectsV2Input{
		Bucket: aws.String(bucket),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", uri, err)
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			if !isYAML(key) {
				continue
			}
			data, err := getObject(ctx, client, bucket, key)
			if err != nil {
				return nil, err
			}
			e, err := Parse("s3://"+bucket+"/"+key, data)
			if err != nil {
				return nil, err
			}
			out = append(out, e)
		}
	}
	return out, nil
}

func getObject(ctx context.Context, client S3API, bucket, key string) ([]byte, error) {
	obj, err := client.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(bucket), Key: aws.String(key)})
	if err != nil {
		return nil, fmt.Errorf("get s3://%s/%s: %w", bucket, key, err)
	}
	defer obj.Body.Close()
	data, err := io.ReadAll(obj.Body)
	if err != nil {
		return nil, fmt.Errorf("read s3://%s/%s: %w", bucket, key, err)
	}
	return data, nil
}

// Sources selects where recipes come from. Embedded defaults always load
// first; dir and then S3 entries override them by id.
type Sources struct {
	Dir   string
	S3URI string
	S3    S3API
}

// Load builds a catalog from the embedded defaults plus any configured sources.
func Load(ctx context.Context, src Sources) (*Catalog, error) {
	entries, err := LoadEmbedded()
	if err != nil {
		return nil, err
	}
	if src.Dir != "" {
		more, err := LoadDir(src.Dir)
		if err != nil {
			return nil, err
		}
		entries = append(entries, more...)
	}
	if src.S3URI != "" {
		if src.S3 == nil {
			return nil, errors.New("recipe uri set without an s3 client")
		}
		more, err := LoadS3(ctx, src.S3, src.S3URI)
		if err != nil {
			return nil, err
		}
		entries = append(entries, more...)
	}
	return New(entries...), nil
}
