package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/AlanFoster/wasmtime/capfs"
)

// mountsFile is the on-disk grant list:
//
//	mounts:
//	  - guest: /data
//	    host: ./testdata
//	  - guest: /tmp
//	    host: /tmp/scratch
type mountsFile struct {
	Mounts []mountEntry `yaml:"mounts"`
}

type mountEntry struct {
	Guest string `yaml:"guest"`
	Host  string `yaml:"host"`
}

func loadMounts(path string) ([]capfs.Grant, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read mounts file: %w", err)
	}
	return parseMounts(data)
}

func parseMounts(data []byte) ([]capfs.Grant, error) {
	var file mountsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse mounts file: %w", err)
	}

	grants := make([]capfs.Grant, 0, len(file.Mounts))
	for i, m := range file.Mounts {
		if m.Guest == "" || m.Host == "" {
			return nil, fmt.Errorf("mount %d: guest and host are both required", i)
		}
		grants = append(grants, capfs.Grant{GuestName: m.Guest, HostPath: m.Host})
	}
	return grants, nil
}
