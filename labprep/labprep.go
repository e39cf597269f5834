// Package labprep hides flag files in the slack regions of a lab image.
//
// The flag files of a directory are sorted by name and the i-th file is written to the
// i-th region kind of a Policy.
package labprep

import (
	"fmt"
	"path/filepath"

	"github.com/aligator/fatslack"
	"github.com/aligator/fatslack/checkpoint"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v2"
)

// FirstPartition selects the used partition which starts first on the disk.
const FirstPartition = -1

// Policy decides where the flags are hidden.
type Policy struct {
	// Partition is the partition table slot of the FAT32 volume or FirstPartition.
	Partition int `yaml:"partition"`
	// FileSlackPath is the 8.3 path of the file whose slack is used.
	FileSlackPath string `yaml:"fileSlackPath"`
	// Regions assigns a region kind to each flag file in order.
	Regions []fatslack.RegionKind `yaml:"regions"`
}

// DefaultPolicy hides four flags after the MBR, in the volume slack, in the slack
// of 1/T.TXT and in bad clusters.
func DefaultPolicy() Policy {
	return Policy{
		Partition:     FirstPartition,
		FileSlackPath: "1/T.TXT",
		Regions: []fatslack.RegionKind{
			fatslack.PostMBR,
			fatslack.VolumeSlack,
			fatslack.FileSlack,
			fatslack.BadCluster,
		},
	}
}

// LoadPolicy reads a YAML policy. Fields missing in the file keep their DefaultPolicy value.
func LoadPolicy(fs afero.Fs, p string) (Policy, error) {
	b, err := afero.ReadFile(fs, p)
	if err != nil {
		return Policy{}, err
	}
	return ParsePolicy(b)
}

// ParsePolicy parses a YAML policy. Fields missing in b keep their DefaultPolicy value.
func ParsePolicy(b []byte) (Policy, error) {
	policy := DefaultPolicy()
	if err := yaml.UnmarshalStrict(b, &policy); err != nil {
		return Policy{}, fmt.Errorf("invalid policy: %w", err)
	}
	if len(policy.Regions) == 0 {
		return Policy{}, fmt.Errorf("invalid policy: no regions")
	}
	return policy, nil
}

// Job is one flag file and the region kind it goes to.
type Job struct {
	Index int
	Name  string
	Kind  fatslack.RegionKind
	Data  []byte
}

// Result is a hidden flag and the region which now holds it.
type Result struct {
	Job    Job
	Region fatslack.Region
}

// Plan reads all regular files of flagDir sorted by name and assigns them their region kind.
func Plan(fs afero.Fs, flagDir string, policy Policy) ([]Job, error) {
	infos, err := afero.ReadDir(fs, flagDir)
	if err != nil {
		return nil, err
	}

	var jobs []Job
	for _, info := range infos {
		if info.IsDir() {
			continue
		}

		idx := len(jobs)
		if idx >= len(policy.Regions) {
			return nil, fmt.Errorf("unsupported flag count to hide: %s would be flag %d but the policy has only %d regions",
				info.Name(), idx, len(policy.Regions))
		}

		data, err := afero.ReadFile(fs, filepath.Join(flagDir, info.Name()))
		if err != nil {
			return nil, err
		}

		jobs = append(jobs, Job{
			Index: idx,
			Name:  info.Name(),
			Kind:  policy.Regions[idx],
			Data:  data,
		})
	}
	return jobs, nil
}

// Hide writes every job into a freshly located region of the session's image.
// It stops at the first failing job and returns the results of all jobs before it.
func Hide(s *fatslack.Session, jobs []Job, policy Policy) ([]Result, error) {
	slot := policy.Partition
	if slot == FirstPartition {
		var err error
		slot, err = s.MBR().FirstUsed()
		if err != nil {
			return nil, err
		}
	}

	var results []Result
	for _, job := range jobs {
		req := fatslack.SlackRequest{
			Kind:      job.Kind,
			Partition: slot,
			Path:      policy.FileSlackPath,
		}

		if job.Kind == fatslack.BadCluster {
			v, err := s.Volume(slot)
			if err != nil {
				return results, err
			}
			req.Clusters = v.ClustersFor(len(job.Data))
		}

		region, err := fatslack.LocateSlack(s, req)
		if err != nil {
			return results, checkpoint.Wrap(err, fmt.Errorf("could not locate %v for %s", job.Kind, job.Name))
		}

		written, err := s.WriteRegion(region, job.Data)
		if err != nil {
			return results, checkpoint.Wrap(err, fmt.Errorf("could not hide %s in %v", job.Name, region))
		}

		logrus.WithFields(logrus.Fields{
			"flag":   job.Name,
			"region": job.Kind,
			"offset": written.Offset,
			"length": written.Length,
		}).Info("flag hidden")

		results = append(results, Result{Job: job, Region: written})
	}
	return results, nil
}
