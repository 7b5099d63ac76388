// Copyright 2021 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

package restful

import (
	"gopkg.in/yaml.v2"
	"io/ioutil"
	"time"
)

// configFile is the YAML layout of a client configuration file.
type configFile struct {
	URL                  string            `yaml:"url"`
	Insecure             bool              `yaml:"insecure"`
	CAFile               string            `yaml:"ca_file"`
	Timeout              float64           `yaml:"timeout"`
	UserAgent            string            `yaml:"user_agent"`
	RetryTransientErrors bool              `yaml:"retry_transient_errors"`
	Headers              map[string]string `yaml:"headers"`
}

// LoadConfig reads a client Config from a YAML file.  The file maps
// directly onto Config's connection fields, with the timeout given in
// seconds:
//
//     url: https://review.example.com
//     timeout: 30
//     retry_transient_errors: true
//     headers:
//       Accept: application/json
//
// Authentication, logging, and session settings have no file form and
// are filled in by the caller afterwards.
func LoadConfig(filename string) (Config, error) {
	var parsed configFile
	raw, err := ioutil.ReadFile(filename)
	if err != nil {
		return Config{}, err
	}
	if err = yaml.Unmarshal(raw, &parsed); err != nil {
		return Config{}, err
	}
	return Config{
		URL:                  parsed.URL,
		Insecure:             parsed.Insecure,
		CAFile:               parsed.CAFile,
		Timeout:              time.Duration(parsed.Timeout * float64(time.Second)),
		UserAgent:            parsed.UserAgent,
		Headers:              parsed.Headers,
		RetryTransientErrors: parsed.RetryTransientErrors,
	}, nil
}
