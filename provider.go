package channel_archiver

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/alanbriolat/channel-archiver/generic"
)

var (
	ErrDuplicateProvider = errors.New("duplicate provider name")
	ErrInvalidProvider   = errors.New("invalid provider")
	ErrNoMatch           = errors.New("no provider matched the input")
	ErrUnknownProvider   = errors.New("unknown provider")
)

var (
	PriorityHighest int16 = math.MinInt16
	PriorityDefault int16 = 0
	PriorityLowest  int16 = math.MaxInt16
)

// VideoInfo is the provider's current view of a single video.
type VideoInfo struct {
	ID          string
	Title       string
	Description string
	ChannelID   string
	ChannelName string
	Duration    time.Duration
	// Best first.
	Thumbnails []string
}

// Stream is a media stream that has been fetched to a local file. The caller owns File and must move or remove it.
type Stream struct {
	File  string
	Video VideoInfo
}

// ChannelVideo is one entry of a channel listing, as returned by MediaProvider.ChannelVideos.
type ChannelVideo struct {
	ID           string
	Title        string
	Description  string
	ThumbnailURL string
	Duration     time.Duration
	IsLive       bool
	// A scheduled stream or premiere. UpcomingAt is set when the provider knows the start time.
	IsUpcoming bool
	UpcomingAt *time.Time
}

type ChannelInfo struct {
	ID           string
	Name         string
	ThumbnailURL string
}

// MediaProvider resolves channel listings and fetches media streams. Failures should be reported as *ProviderError
// where the provider can recognise them.
type MediaProvider interface {
	VideoStream(ctx context.Context, videoID string) (*Stream, error)
	AudioStream(ctx context.Context, videoID string) (*Stream, error)
	// ChannelVideos lists a channel's videos, most recent first.
	ChannelVideos(ctx context.Context, channelID string) ([]ChannelVideo, error)
	ChannelInfo(ctx context.Context, channelID string) (*ChannelInfo, error)
	VideoInfo(ctx context.Context, videoID string) (*VideoInfo, error)
}

// MatchFunc extracts a video ID from a URL (or bare ID) the provider understands.
type MatchFunc = func(string) (string, error)

// NewFunc constructs a MediaProvider from the application config.
type NewFunc = func(Config) (MediaProvider, error)

// A Provider is a named MediaProvider implementation, along with a way to recognise the videos it can handle.
type Provider struct {
	Name  string
	New   NewFunc
	Match MatchFunc
	// Priority of the matcher, lower (including negative) means matching earlier.
	Priority int16
}

// A Match is the result of a Provider successfully matching a URL.
type Match struct {
	ProviderName string
	VideoID      string
}

// A ProviderRegistry is a collection of Provider instances which can be used to construct providers by name and to
// match URLs.
type ProviderRegistry struct {
	providers   []*Provider
	providerMap map[string]*Provider
}

// Add registers a Provider with the ProviderRegistry. Provider.Name, Provider.New and Provider.Match must be set, and
// Provider.Name must be unique within the ProviderRegistry.
func (r *ProviderRegistry) Add(p Provider) error {
	if r.providerMap == nil {
		r.providerMap = make(map[string]*Provider)
	}
	if p.Name == "" || p.New == nil || p.Match == nil {
		return ErrInvalidProvider
	}
	if _, ok := r.providerMap[p.Name]; ok {
		return ErrDuplicateProvider
	}
	r.providerMap[p.Name] = &p
	r.providers = append(r.providers, r.providerMap[p.Name])
	r.sortByPriority()
	return nil
}

// List returns the names of registered providers in priority order.
func (r *ProviderRegistry) List() []string {
	names := make([]string, 0, len(r.providers))
	for _, p := range r.providers {
		names = append(names, p.Name)
	}
	return names
}

// New constructs the named provider.
func (r *ProviderRegistry) New(name string, config Config) (MediaProvider, error) {
	p, ok := r.providerMap[name]
	if !ok {
		return nil, fmt.Errorf("%w: %v (have %v)", ErrUnknownProvider, name, strings.Join(r.List(), ", "))
	}
	return p.New(config)
}

// Match a string against each Provider in priority order, or return the combined errors of every provider.
func (r *ProviderRegistry) Match(s string) (*Match, error) {
	var result error
	for _, p := range r.providers {
		if videoID, err := p.Match(s); videoID != "" && err == nil {
			return &Match{ProviderName: p.Name, VideoID: videoID}, nil
		} else if err != nil {
			result = multierror.Append(result, multierror.Prefix(err, fmt.Sprintf("[%v]", p.Name)))
		}
	}
	if result == nil {
		result = ErrNoMatch
	}
	return nil, result
}

// MatchWith will attempt to match a string against a specific provider.
func (r *ProviderRegistry) MatchWith(name string, s string) (*Match, error) {
	if p, ok := r.providerMap[name]; ok {
		if videoID, err := p.Match(s); videoID != "" && err == nil {
			return &Match{ProviderName: p.Name, VideoID: videoID}, nil
		} else {
			return nil, ErrNoMatch
		}
	} else {
		return nil, ErrUnknownProvider
	}
}

// MustAdd wraps Add but panics if there is an error.
func (r *ProviderRegistry) MustAdd(p Provider) {
	generic.Unwrap_(r.Add(p))
}

func (r *ProviderRegistry) sortByPriority() {
	sort.SliceStable(r.providers, func(i, j int) bool {
		return r.providers[i].Priority < r.providers[j].Priority
	})
}

var DefaultProviderRegistry ProviderRegistry
