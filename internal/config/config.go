// file: internal/config/config.go
// version: 1.0.0
// guid: 3f2a1b0c-9d8e-4f7a-b6c5-d4e3f2a1b0c9

package config

import (
	"strings"

	"github.com/spf13/viper"
)

// Trust modes for Skaldleita results in the API lookup layer.
const (
	TrustModeFull   = "full"
	TrustModeBoost  = "boost"
	TrustModeLegacy = "legacy"
)

// Naming formats understood by the path builder.
const (
	NamingAuthorSlashTitle = "author/title"
	NamingAuthorDashTitle  = "author - title"
	NamingAuthorLFTitle    = "author_lf/title"
	NamingCustom           = "custom"
)

// Config holds application configuration. One instance is loaded from viper
// at startup and reloaded by the worker at the top of every cycle.
type Config struct {
	// Library layout
	LibraryPaths      []string
	WatchFolder       string
	WatchOutputFolder string
	DatabasePath      string

	// Scheduling
	ScanIntervalHours    int
	WatchIntervalSeconds int
	BatchSize            int
	MaxRequestsPerHour   int

	// Pipeline behavior
	AutoFix              bool
	ProtectAuthorChanges bool
	TrustTheProcess      bool
	DeepScanMode         bool
	EnableAPILookups     bool
	EnableAIVerification bool
	EnableAudioAnalysis  bool
	EnableContentAnalysis bool
	MultibookAIFallback  bool
	UseSkaldleitaForAudio bool

	// Skaldleita trust
	SLTrustMode           string // full | boost | legacy
	SLConfidenceThreshold int    // 0-100

	// Profile
	ProfileConfidenceThreshold int

	// Naming
	NamingFormat             string
	CustomNamingTemplate     string
	SeriesGrouping           bool
	ABSNarratorGrouping      bool
	StandardizeAuthorInitials bool
	PreserveOriginalTitles   bool
	StripUnabridged          bool

	// Ebooks
	EbookManagement  bool
	EbookLibraryMode string // merge | separate
	EnableISBNLookup bool

	// Language handling
	PreferredLanguage      string
	StrictLanguageMatching bool
	MultilangNamingMode    string // native | preferred | tagged
	LanguageTagEnabled     bool
	LanguageTagFormat      string // code | full | bracket_code | bracket_full
	LanguageTagPosition    string // before_title | after_title | subfolder

	// Provider chains, first successful result wins
	AudioProviderChain []string
	TextProviderChain  []string

	// Provider endpoints and credentials
	SkaldleitaBaseURL string
	SkaldleitaSalt    string
	GeminiAPIKey      string
	OpenRouterAPIKey  string
	HardcoverAPIKey   string
	GoogleBooksAPIKey string

	// External transcriber contract (argv template; {file} and {seconds}
	// are substituted). Empty disables the local transcription fallback.
	TranscriberCommand string

	// Observability endpoint
	StatusAddr string
}

// Version is stamped at build time and used for request signing.
var Version = "1.4.2"

var AppConfig Config

// InitConfig initializes the application configuration from viper.
func InitConfig() {
	AppConfig = Load()
}

// Load reads the current configuration snapshot from viper. The worker calls
// this at the top of every cycle so config edits take effect without restart.
func Load() Config {
	setDefaults()

	cfg := Config{
		LibraryPaths:      viper.GetStringSlice("library_paths"),
		WatchFolder:       viper.GetString("watch_folder"),
		WatchOutputFolder: viper.GetString("watch_output_folder"),
		DatabasePath:      viper.GetString("database_path"),

		ScanIntervalHours:    viper.GetInt("scan_interval_hours"),
		WatchIntervalSeconds: viper.GetInt("watch_interval_seconds"),
		BatchSize:            viper.GetInt("batch_size"),
		MaxRequestsPerHour:   viper.GetInt("max_requests_per_hour"),

		AutoFix:               viper.GetBool("auto_fix"),
		ProtectAuthorChanges:  viper.GetBool("protect_author_changes"),
		TrustTheProcess:       viper.GetBool("trust_the_process"),
		DeepScanMode:          viper.GetBool("deep_scan_mode"),
		EnableAPILookups:      viper.GetBool("enable_api_lookups"),
		EnableAIVerification:  viper.GetBool("enable_ai_verification"),
		EnableAudioAnalysis:   viper.GetBool("enable_audio_analysis"),
		EnableContentAnalysis: viper.GetBool("enable_content_analysis"),
		MultibookAIFallback:   viper.GetBool("multibook_ai_fallback"),

		SLTrustMode:           viper.GetString("sl_trust_mode"),
		SLConfidenceThreshold: viper.GetInt("sl_confidence_threshold"),

		ProfileConfidenceThreshold: viper.GetInt("profile_confidence_threshold"),

		NamingFormat:              viper.GetString("naming_format"),
		CustomNamingTemplate:      viper.GetString("custom_naming_template"),
		SeriesGrouping:            viper.GetBool("series_grouping"),
		ABSNarratorGrouping:       viper.GetBool("abs_narrator_grouping"),
		StandardizeAuthorInitials: viper.GetBool("standardize_author_initials"),
		PreserveOriginalTitles:    viper.GetBool("preserve_original_titles"),
		StripUnabridged:           viper.GetBool("strip_unabridged"),

		EbookManagement:  viper.GetBool("ebook_management"),
		EbookLibraryMode: viper.GetString("ebook_library_mode"),
		EnableISBNLookup: viper.GetBool("enable_isbn_lookup"),

		PreferredLanguage:      viper.GetString("preferred_language"),
		StrictLanguageMatching: viper.GetBool("strict_language_matching"),
		MultilangNamingMode:    viper.GetString("multilang_naming_mode"),
		LanguageTagEnabled:     viper.GetBool("language_tag_enabled"),
		LanguageTagFormat:      viper.GetString("language_tag_format"),
		LanguageTagPosition:    viper.GetString("language_tag_position"),

		AudioProviderChain: viper.GetStringSlice("audio_provider_chain"),
		TextProviderChain:  viper.GetStringSlice("text_provider_chain"),

		SkaldleitaBaseURL: viper.GetString("skaldleita_base_url"),
		SkaldleitaSalt:    viper.GetString("skaldleita_salt"),
		GeminiAPIKey:      viper.GetString("api_keys.gemini"),
		OpenRouterAPIKey:  viper.GetString("api_keys.openrouter"),
		HardcoverAPIKey:   viper.GetString("api_keys.hardcover"),
		GoogleBooksAPIKey: viper.GetString("api_keys.googlebooks"),

		TranscriberCommand: viper.GetString("transcriber_command"),
		StatusAddr:         viper.GetString("status_addr"),
	}

	// use_bookdb_for_audio is the pre-rename key for the same toggle.
	// Read both, prefer the new name; only the new name is ever written.
	if viper.IsSet("use_skaldleita_for_audio") {
		cfg.UseSkaldleitaForAudio = viper.GetBool("use_skaldleita_for_audio")
	} else if viper.IsSet("use_bookdb_for_audio") {
		cfg.UseSkaldleitaForAudio = viper.GetBool("use_bookdb_for_audio")
	} else {
		cfg.UseSkaldleitaForAudio = true
	}

	cfg.SLTrustMode = strings.ToLower(cfg.SLTrustMode)
	switch cfg.SLTrustMode {
	case TrustModeFull, TrustModeBoost, TrustModeLegacy:
	default:
		cfg.SLTrustMode = TrustModeBoost
	}

	if cfg.MaxRequestsPerHour < 10 {
		cfg.MaxRequestsPerHour = 10
	}
	if cfg.MaxRequestsPerHour > 500 {
		cfg.MaxRequestsPerHour = 500
	}

	return cfg
}

func setDefaults() {
	viper.SetDefault("database_path", "library-manager.db")
	viper.SetDefault("scan_interval_hours", 6)
	viper.SetDefault("watch_interval_seconds", 300)
	viper.SetDefault("batch_size", 5)
	viper.SetDefault("max_requests_per_hour", 60)
	viper.SetDefault("auto_fix", false)
	viper.SetDefault("protect_author_changes", true)
	viper.SetDefault("enable_api_lookups", true)
	viper.SetDefault("enable_ai_verification", true)
	viper.SetDefault("enable_audio_analysis", false)
	viper.SetDefault("enable_content_analysis", false)
	viper.SetDefault("multibook_ai_fallback", false)
	viper.SetDefault("sl_trust_mode", TrustModeBoost)
	viper.SetDefault("sl_confidence_threshold", 80)
	viper.SetDefault("profile_confidence_threshold", 85)
	viper.SetDefault("naming_format", NamingAuthorSlashTitle)
	viper.SetDefault("series_grouping", false)
	viper.SetDefault("abs_narrator_grouping", true)
	viper.SetDefault("strip_unabridged", false)
	viper.SetDefault("ebook_library_mode", "merge")
	viper.SetDefault("preferred_language", "en")
	viper.SetDefault("multilang_naming_mode", "native")
	viper.SetDefault("language_tag_format", "bracket_code")
	viper.SetDefault("language_tag_position", "after_title")
	viper.SetDefault("audio_provider_chain", []string{"skaldleita", "gemini"})
	viper.SetDefault("text_provider_chain", []string{"gemini", "openrouter"})
	viper.SetDefault("skaldleita_base_url", "https://skaldleita.jdfalk.net")
	viper.SetDefault("status_addr", "localhost:8480")
}

// WatchFolderNames returns the base names of the configured watch folder and
// library roots. These names double as placeholder authors: a folder named
// after the ingest directory itself has not been identified yet.
func (c *Config) WatchFolderNames() []string {
	var names []string
	if c.WatchFolder != "" {
		names = append(names, baseName(c.WatchFolder))
	}
	for _, p := range c.LibraryPaths {
		names = append(names, baseName(p))
	}
	return names
}

func baseName(p string) string {
	p = strings.TrimRight(p, "/\\")
	if i := strings.LastIndexAny(p, "/\\"); i >= 0 {
		return p[i+1:]
	}
	return p
}
