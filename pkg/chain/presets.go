package chain

var defaultRegistry = NewRegistry()

// Default returns the process-wide registry holding the built-in chains.
func Default() *Registry {
	return defaultRegistry
}

// Register adds a chain to the default registry.
func Register(d Descriptor) {
	defaultRegistry.Register(d)
}

// Get retrieves a chain from the default registry by its slug.
func Get(slug string) (Descriptor, bool) {
	return defaultRegistry.Resolve(slug)
}

const PharosAtlantic = "pharos-atlantic"

// Built-in chains
func init() {
	Register(Descriptor{
		ID:             688689,
		Slug:           PharosAtlantic,
		Name:           "Pharos Atlantic Testnet",
		ShortName:      "Pharos",
		NativeCurrency: Currency{Name: "PHRS", Symbol: "PHRS", Decimals: 18},
		RPCURL:         "https://atlantic.dplabs-internal.com",
		ExplorerURL:    "https://pharos-testnet.socialscan.io",
		ExplorerAPIURL: "https://api.socialscan.io/pharos-atlantic-testnet/v1/developer/api",
		APIKeyEnv:      "SOCIALSCAN_API_KEY",
		IsTestnet:      true,
		IsActive:       true,
	})

	Register(Descriptor{
		ID:             11155111,
		Slug:           "ethereum-sepolia",
		Name:           "Ethereum Sepolia",
		ShortName:      "Sepolia",
		NativeCurrency: Currency{Name: "Sepolia ETH", Symbol: "ETH", Decimals: 18},
		RPCURL:         "https://rpc.sepolia.org",
		ExplorerURL:    "https://sepolia.etherscan.io",
		ExplorerAPIURL: "https://api-sepolia.etherscan.io/api",
		APIKeyEnv:      "ETHERSCAN_API_KEY",
		IsTestnet:      true,
	})

	Register(Descriptor{
		ID:             84532,
		Slug:           "base-sepolia",
		Name:           "Base Sepolia",
		ShortName:      "Base",
		NativeCurrency: Currency{Name: "Sepolia ETH", Symbol: "ETH", Decimals: 18},
		RPCURL:         "https://sepolia.base.org",
		ExplorerURL:    "https://sepolia.basescan.org",
		ExplorerAPIURL: "https://api-sepolia.basescan.org/api",
		APIKeyEnv:      "BASESCAN_API_KEY",
		IsTestnet:      true,
	})

	Register(Descriptor{
		ID:             421614,
		Slug:           "arbitrum-sepolia",
		Name:           "Arbitrum Sepolia",
		ShortName:      "Arbitrum",
		NativeCurrency: Currency{Name: "Sepolia ETH", Symbol: "ETH", Decimals: 18},
		RPCURL:         "https://sepolia-rollup.arbitrum.io/rpc",
		ExplorerURL:    "https://sepolia.arbiscan.io",
		ExplorerAPIURL: "https://api-sepolia.arbiscan.io/api",
		APIKeyEnv:      "ARBISCAN_API_KEY",
		IsTestnet:      true,
	})

	// Roughly 108,000 blocks per day on Pharos.
	// Contract addresses are deployment specific and come from config.
	defaultRegistry.RegisterMonths(PharosAtlantic,
		MonthWindow{
			Name:        October,
			Year:        2025,
			StartBlock:  74250,
			EndBlock:    2286948,
			MetadataURI: "ipfs://bafkreibf33bsbdof7cpnusn25r7qdgpouky6u4jvyb574reqj7yvh7e6ji",
		},
		MonthWindow{
			Name:        November,
			Year:        2025,
			StartBlock:  2286949,
			EndBlock:    5147719,
			MetadataURI: "ipfs://bafkreicgisxbt2airnuc6ail4zh3bjh4mtj2goeqfwsmbiqpvau2ke53mi",
		},
		MonthWindow{
			Name:        December,
			Year:        2025,
			StartBlock:  5147720,
			EndBlock:    8291372,
			MetadataURI: "ipfs://bafkreibfpm6eihhsb6unjwxgdajpvjajiuwdr2qszb3hddon4vw46gaazy",
		},
		MonthWindow{
			Name:        January,
			Year:        2026,
			StartBlock:  8291373,
			EndBlock:    12326699,
			MetadataURI: "ipfs://bafkreif5ccgpnjsp3hfeympzlapndiv6w57jl22yn4gj4rffjfkodkdzyq",
		},
		MonthWindow{
			Name:        February,
			Year:        2026,
			StartBlock:  12342700,
			EndBlock:    15982250,
			MetadataURI: "ipfs://bafkreienlopqfgcqboytlkmppvgwaz5dd4mhtw2jioakhcixffszjkqnkm",
		},
	)
}
