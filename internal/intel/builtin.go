package intel

// BuiltinIndicators returns the starter indicator set loaded at boot.
// Real deployments replace or extend these through feed loaders.
func BuiltinIndicators() []*Indicator {
	return []*Indicator{
		{
			Value:       "185.220.101.1",
			Risk:        RiskHigh,
			Source:      "builtin",
			Description: "Known Tor exit node with credential stuffing history",
			Tags:        []string{"tor", "credential_stuffing"},
		},
		{
			Value:       "45.155.205.233",
			Risk:        RiskCritical,
			Source:      "builtin",
			Description: "Ransomware command and control infrastructure",
			Tags:        []string{"c2", "ransomware"},
		},
		{
			Value:       "91.240.118.172",
			Risk:        RiskMedium,
			Source:      "builtin",
			Description: "Scanner network, repeated enumeration attempts",
			Tags:        []string{"scanner"},
		},
	}
}
