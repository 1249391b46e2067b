// Package rdg stores a partitioned graph with its node and edge property
// tables, one part per host, in a directory or an S3 bucket.
package rdg

import (
	"context"
	"encoding/json"
	"fmt"
	"path"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/vmihailenco/msgpack/v5"

	"dgsync/dgraph"
)

const (
	metaName      = "meta.json"
	formatVersion = 1
)

// ErrNotFound is returned by buckets for missing objects.
var ErrNotFound = errors.New("rdg: object not found")

type Property struct {
	Name string `msgpack:"name"`
	Data []byte `msgpack:"data"`
}

// RDG is one host's part. Version is the stored version it was loaded
// from, zero for a graph that was never stored.
type RDG struct {
	Version   uint64
	NodeProps []Property
	EdgeProps []Property
	Topology  []byte
}

// Meta is the job-wide descriptor written by host 0.
type Meta struct {
	Format   int    `json:"format"`
	Version  uint64 `json:"version"`
	NumHosts uint32 `json:"num_hosts"`
}

// partHeader lists what one host's part holds.
type partHeader struct {
	NodeProps []string `json:"node_property_names"`
	EdgeProps []string `json:"edge_property_names"`
	Topology  string   `json:"topology_path"`
}

// PartName is <path>_<host>_<version>.
func PartName(p string, host uint32, version uint64) string {
	return fmt.Sprintf("%s_%d_%d", p, host, version)
}

type Handle struct {
	bucket   Bucket
	hostID   uint32
	numHosts uint32
	logger   logrus.FieldLogger
}

func NewHandle(bucket Bucket, hostID, numHosts uint32, logger logrus.FieldLogger) *Handle {
	return &Handle{bucket: bucket, hostID: hostID, numHosts: numHosts, logger: logger}
}

// Store writes r as version r.Version+1 under p and advances r.Version.
// Every host stores its own part; host 0 also rewrites the meta file
// after its part is written.
func (h *Handle) Store(ctx context.Context, r *RDG, p string) error {
	version := r.Version + 1
	header := partHeader{Topology: PartName(path.Join(p, "topology"), h.hostID, version)}

	if err := h.bucket.Put(ctx, header.Topology, r.Topology); err != nil {
		return errors.Wrap(err, "store topology")
	}
	for _, prop := range r.NodeProps {
		if err := h.putProperty(ctx, p, "node", prop, version); err != nil {
			return err
		}
		header.NodeProps = append(header.NodeProps, prop.Name)
	}
	for _, prop := range r.EdgeProps {
		if err := h.putProperty(ctx, p, "edge", prop, version); err != nil {
			return err
		}
		header.EdgeProps = append(header.EdgeProps, prop.Name)
	}

	data, err := json.Marshal(header)
	if err != nil {
		return errors.Wrap(err, "marshal part header")
	}
	if err := h.bucket.Put(ctx, PartName(path.Join(p, "part"), h.hostID, version), data); err != nil {
		return errors.Wrap(err, "store part header")
	}

	if h.hostID == 0 {
		meta, err := json.Marshal(Meta{Format: formatVersion, Version: version, NumHosts: h.numHosts})
		if err != nil {
			return errors.Wrap(err, "marshal meta")
		}
		if err := h.bucket.Put(ctx, path.Join(p, metaName), meta); err != nil {
			return errors.Wrap(err, "store meta")
		}
	}
	r.Version = version
	h.logger.WithFields(logrus.Fields{
		"action":  "rdg_store",
		"path":    p,
		"version": version,
		"host":    h.hostID,
	}).Debug("stored graph part")
	return nil
}

func (h *Handle) putProperty(ctx context.Context, p, kind string, prop Property, version uint64) error {
	data, err := msgpack.Marshal(prop)
	if err != nil {
		return errors.Wrapf(err, "marshal %s property %s", kind, prop.Name)
	}
	key := PartName(path.Join(p, kind+"_"+prop.Name), h.hostID, version)
	return errors.Wrapf(h.bucket.Put(ctx, key, data), "store %s property %s", kind, prop.Name)
}

func (h *Handle) ReadMeta(ctx context.Context, p string) (Meta, error) {
	var meta Meta
	data, err := h.bucket.Get(ctx, path.Join(p, metaName))
	if err != nil {
		return meta, errors.Wrap(err, "read meta")
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return meta, errors.Wrap(err, "parse meta")
	}
	if meta.Format != formatVersion {
		return meta, errors.Errorf("meta format %d, want %d", meta.Format, formatVersion)
	}
	return meta, nil
}

// Load reads this host's part of the latest version under p. Nil name
// lists load every property of that kind.
func (h *Handle) Load(ctx context.Context, p string, nodeNames, edgeNames []string) (*RDG, error) {
	meta, err := h.ReadMeta(ctx, p)
	if err != nil {
		return nil, err
	}
	if meta.NumHosts != h.numHosts {
		return nil, errors.Errorf("graph at %s was stored by %d hosts, loading with %d", p, meta.NumHosts, h.numHosts)
	}

	data, err := h.bucket.Get(ctx, PartName(path.Join(p, "part"), h.hostID, meta.Version))
	if err != nil {
		return nil, errors.Wrap(err, "read part header")
	}
	var header partHeader
	if err := json.Unmarshal(data, &header); err != nil {
		return nil, errors.Wrap(err, "parse part header")
	}

	r := &RDG{Version: meta.Version}
	if r.Topology, err = h.bucket.Get(ctx, header.Topology); err != nil {
		return nil, errors.Wrap(err, "read topology")
	}
	if r.NodeProps, err = h.loadProperties(ctx, p, "node", header.NodeProps, nodeNames, meta.Version); err != nil {
		return nil, err
	}
	if r.EdgeProps, err = h.loadProperties(ctx, p, "edge", header.EdgeProps, edgeNames, meta.Version); err != nil {
		return nil, err
	}
	return r, nil
}

func (h *Handle) loadProperties(ctx context.Context, p, kind string, stored, names []string, version uint64) ([]Property, error) {
	if names == nil {
		names = stored
	}
	have := make(map[string]bool, len(stored))
	for _, n := range stored {
		have[n] = true
	}
	props := make([]Property, 0, len(names))
	for _, name := range names {
		if !have[name] {
			return nil, errors.Errorf("no %s property %q in stored graph", kind, name)
		}
		data, err := h.bucket.Get(ctx, PartName(path.Join(p, kind+"_"+name), h.hostID, version))
		if err != nil {
			return nil, errors.Wrapf(err, "read %s property %s", kind, name)
		}
		var prop Property
		if err := msgpack.Unmarshal(data, &prop); err != nil {
			return nil, errors.Wrapf(err, "decode %s property %s", kind, name)
		}
		props = append(props, prop)
	}
	return props, nil
}

// NewProperty packs a typed column.
func NewProperty[V dgraph.Value](name string, values []V) (Property, error) {
	data, err := msgpack.Marshal(values)
	if err != nil {
		return Property{}, errors.Wrapf(err, "marshal property %s", name)
	}
	return Property{Name: name, Data: data}, nil
}

func PropertyValues[V dgraph.Value](p Property) ([]V, error) {
	var values []V
	if err := msgpack.Unmarshal(p.Data, &values); err != nil {
		return nil, errors.Wrapf(err, "unmarshal property %s", p.Name)
	}
	return values, nil
}

// Find returns the property called name.
func Find(props []Property, name string) (Property, bool) {
	for _, p := range props {
		if p.Name == name {
			return p, true
		}
	}
	return Property{}, false
}
