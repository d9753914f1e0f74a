package util

import (
	_ "embed"
	"fmt"
	"gopkg.in/yaml.v3"
	"log"
	"os"
	"strconv"
)

const Name = "fittrackee-federation"
const ConfigFileName = "config.yaml"

//go:embed config_default.yaml
var embeddedConfig []byte

type AppConfig struct {
	Conf struct {
		Host             string
		HttpPort         int    `yaml:"httpPort"`
		Domain           string `yaml:"domain"`
		WithFederation   bool   `yaml:"withFederation"`
		OpenRegistration bool   `yaml:"openRegistration"`
		ApiKey           string `yaml:"apiKey"`
	}
}

func ReadConf() (*AppConfig, error) {

	c := &AppConfig{}

	// Try to resolve config file path (local first, then user dir)
	configPath := ResolveFilePath(ConfigFileName)

	var buf []byte
	var err error

	// Try to read from resolved path
	buf, err = os.ReadFile(configPath)
	if err != nil {
		// If file doesn't exist, use embedded config and create user config file
		log.Printf("Config file not found at %s, using embedded defaults", configPath)
		buf = embeddedConfig

		// Try to write default config to user config directory
		configDir, dirErr := GetConfigDir()
		if dirErr == nil {
			userConfigPath := configDir + "/" + ConfigFileName
			writeErr := os.WriteFile(userConfigPath, embeddedConfig, 0644)
			if writeErr != nil {
				log.Printf("Warning: could not write default config to %s: %v", userConfigPath, writeErr)
			} else {
				log.Printf("Created default config file at %s", userConfigPath)
			}
		}
	}

	err = yaml.Unmarshal(buf, c)
	if err != nil {
		return nil, fmt.Errorf("in config file: %w", err)
	}

	envHost := os.Getenv("FITTRACKEE_HOST")
	envHttpPort := os.Getenv("FITTRACKEE_HTTPPORT")
	envDomain := os.Getenv("FITTRACKEE_DOMAIN")
	envWithFederation := os.Getenv("FITTRACKEE_WITH_FEDERATION")
	envOpenRegistration := os.Getenv("FITTRACKEE_OPEN_REGISTRATION")
	envApiKey := os.Getenv("FITTRACKEE_APIKEY")

	if envHost != "" {
		c.Conf.Host = envHost
	}

	if envHttpPort != "" {
		v, err := strconv.Atoi(envHttpPort)
		if err != nil {
			fmt.Println(err)
		}
		c.Conf.HttpPort = v
	}

	if envDomain != "" {
		c.Conf.Domain = envDomain
	}

	if envWithFederation == "true" {
		c.Conf.WithFederation = true
	}

	if envOpenRegistration == "true" {
		c.Conf.OpenRegistration = true
	}

	if envApiKey != "" {
		c.Conf.ApiKey = envApiKey
	}

	return c, nil
}
