package util

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

/*
	ClusterConfig is re-stated here to avoid a circular dependency:
	the host binary's config embeds dgraph and partition configs, and
	those packages import util.
*/

type ClusterConfig struct {
	JobID string
	// Peers[i] is the transport listen address of host i.
	Peers []string
	// StatusAddrs[i] is the status server address of host i.
	StatusAddrs []string
}

const (
	HOSTS   = "host"
	CLUSTER = "cluster_config.json"
)

// SynchronizeConfigs copies the peer list, job ID and each host's own
// addresses from config/cluster_config.json into every
// config/host<i>_config.json. Fields it does not own are left untouched.
func SynchronizeConfigs() error {
	files, err := os.ReadDir("config")
	if err != nil {
		return errors.Wrap(err, "list config dir")
	}

	var cluster ClusterConfig
	if err := ReadJSONConfig(GetConfigPath(CLUSTER), &cluster); err != nil {
		return err
	}

	for _, file := range files {
		filename := file.Name()
		if !IsHostConfig(filename) {
			continue
		}
		hostID, err := HostIDFromConfigName(filename)
		if err != nil {
			return err
		}
		if hostID >= len(cluster.Peers) {
			return errors.Errorf("%s: host %d has no peer address in %s", filename, hostID, CLUSTER)
		}

		host := map[string]interface{}{}
		if err := ReadJSONConfig(GetConfigPath(filename), &host); err != nil {
			return err
		}
		host["HostID"] = hostID
		host["JobID"] = cluster.JobID
		host["Peers"] = cluster.Peers
		if hostID < len(cluster.StatusAddrs) {
			host["StatusAddr"] = cluster.StatusAddrs[hostID]
		}
		if err := WriteJSONConfig(GetConfigPath(filename), host); err != nil {
			return err
		}
	}
	return nil
}

// AssignPorts rewrites the cluster peer list as consecutive ports on
// host starting at basePort.
func AssignPorts(host string, basePort int) error {
	var cluster ClusterConfig
	if err := ReadJSONConfig(GetConfigPath(CLUSTER), &cluster); err != nil {
		return err
	}
	for i := range cluster.Peers {
		cluster.Peers[i] = fmt.Sprintf("%s:%d", host, basePort+i)
	}
	for i := range cluster.StatusAddrs {
		cluster.StatusAddrs[i] = fmt.Sprintf("%s:%d", host, basePort+len(cluster.Peers)+i)
	}
	return WriteJSONConfig(GetConfigPath(CLUSTER), cluster)
}

func IsHostConfig(filename string) bool {
	return strings.HasPrefix(filename, HOSTS) && strings.HasSuffix(filename, "_config.json")
}

func HostIDFromConfigName(filename string) (int, error) {
	idStr := strings.TrimSuffix(strings.TrimPrefix(filename, HOSTS), "_config.json")
	id, err := strconv.Atoi(idStr)
	if err != nil {
		return 0, errors.Wrapf(err, "host id in config name %s", filename)
	}
	return id, nil
}

func GetConfigPath(filename string) string {
	return fmt.Sprintf("config/%s", filename)
}
