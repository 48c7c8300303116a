package config

func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:        "0.0.0.0",
			Ports:       []int{9050, 9051, 9052},
			PIDFile:     "/var/run/branchsim.pid",
			Workers:     0,
			AcceptRate:  0,
			AcceptBurst: 8,
		},
		Status: StatusConfig{
			Enabled: true,
			Host:    "127.0.0.1",
			Port:    9060,
			RateLimit: RateLimitConfig{
				Enabled:           false,
				RequestsPerSecond: 100,
				Burst:             200,
			},
		},
		Auth: AuthConfig{
			Enabled:  false,
			User:     "",
			Password: "",
		},
		Client: ClientConfig{
			Name:             "branchsim",
			ConnectTimeoutMS: 5000,
			AbortTimeoutMS:   5000,
			Workers:          0,
			DataDir:          "~/.branchsim",
		},
		Simulation: SimulationConfig{
			TracesPath:      "traces",
			ConditionalOnly: true,
			BranchesToSkip:  0,
			RemoteOnly:      false,
			MaxTableMB:      256,
		},
		Monitoring: MonitoringConfig{
			IntervalMS: 1000,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}
