// Package query compiles the free-form filter expression of the uploads
// list endpoints into a parameterized SQL WHERE/ORDER BY pair. Every
// dynamic value goes through a parameter slot; glob wildcards are
// rewritten to LIKE patterns with literal %/_ escaped.
package query

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/perdedora/safe/internal/apperr"
)

// Caps are the per-role complexity limits. Moderators bypass all of them.
type Caps struct {
	TextQueries     int
	WildcardsPerKey int
	SortKeys        int
	IsKeys          int
}

// DefaultCaps matches the limits the reference clients expect.
var DefaultCaps = Caps{
	TextQueries:     3,
	WildcardsPerKey: 2,
	SortKeys:        1,
	IsKeys:          1,
}

// Options describe the caller and view the expression compiles under.
type Options struct {
	// UserID scopes results to one owner. Nil means no owner scope
	// (the moderator "list all" view).
	UserID *uint

	// Moderator lifts the complexity caps and unlocks the user/ip
	// dimensions.
	Moderator bool

	// All marks the "list all uploads" view. user, ip and sorting by
	// ip/userid require All together with Moderator.
	All bool

	// AlbumID, when set, scopes to one album and suppresses albumid keys.
	AlbumID *uint

	// MinOffset is the client-reported timezone offset in minutes,
	// applied when converting absolute dates to epoch seconds.
	MinOffset int

	// ResolveUser maps a username in a user: term to its id.
	ResolveUser func(username string) (uint, bool)

	// Caps zero-value falls back to DefaultCaps.
	Caps Caps

	// now overrides the clock in tests.
	now func() time.Time
}

func (o *Options) caps() Caps {
	if o.Caps == (Caps{}) {
		return DefaultCaps
	}
	return o.Caps
}

func (o *Options) clock() time.Time {
	if o.now != nil {
		return o.now()
	}
	return time.Now()
}

// Result is a compiled expression ready for the store's list queries.
type Result struct {
	// Where is the predicate without the WHERE keyword, "" when
	// unfiltered.
	Where string

	// Args are the parameter values for Where, in slot order.
	Args []any

	// Order is the ORDER BY body, never empty.
	Order string
}

// isExtensions maps the is: dimension to the name suffixes it matches.
var isExtensions = map[string][]string{
	"image": {".webp", ".jpg", ".jpeg", ".gif", ".png", ".tiff", ".tif", ".svg", ".bmp"},
	"video": {".webm", ".mp4", ".wmv", ".avi", ".mov", ".mkv", ".m4v"},
	"audio": {".mp3", ".wav", ".ogg", ".flac", ".m4a", ".aac", ".opus"},
}

// sortColumns whitelists sortable columns. Nullable marks those that get
// NULLS LAST; cast marks integer columns stored loosely.
var sortColumns = map[string]struct {
	nullable   bool
	cast       bool
	privileged bool
}{
	"id":         {},
	"name":       {},
	"original":   {},
	"size":       {cast: true},
	"type":       {},
	"timestamp":  {cast: true},
	"expirydate": {nullable: true, cast: true},
	"userid":     {nullable: true, privileged: true},
	"ip":         {nullable: true, privileged: true},
}

// set collects one keyed dimension's inclusions and exclusions. The "-"
// sentinel becomes a NULL predicate; exclusion wins on conflict.
type set struct {
	include  []any
	exclude  []any
	inclNull bool
	exclNull bool
}

func (s *set) add(neg bool, v any) {
	if neg {
		s.exclude = append(s.exclude, v)
	} else {
		s.include = append(s.include, v)
	}
}

func (s *set) addNull(neg bool) {
	if neg {
		s.exclNull = true
	} else {
		s.inclNull = true
	}
}

func (s *set) empty() bool {
	return len(s.include) == 0 && len(s.exclude) == 0 && !s.inclNull && !s.exclNull
}

// timeRange is a half-open [From, To) epoch-second window; nil means
// unbounded on that side.
type timeRange struct {
	From *int64
	To   *int64
}

func (r *timeRange) empty() bool { return r.From == nil && r.To == nil }

type textTerm struct {
	neg     bool
	pattern string
}

type sortKey struct {
	column string
	desc   bool
}

type compiler struct {
	opt  Options
	caps Caps

	users   set
	ips     set
	albums  set
	types   []textTerm
	date    timeRange
	expiry  timeRange
	isKeys  []textTerm // pattern holds the is: value, expanded at emit
	texts   []textTerm
	sorts   []sortKey
	isCount int
}

// Compile parses and compiles raw under opt.
func Compile(raw string, opt Options) (*Result, error) {
	c := &compiler{opt: opt, caps: opt.caps()}
	for _, tok := range tokenize(raw) {
		if err := c.consume(tok); err != nil {
			return nil, err
		}
	}
	if err := c.enforceCaps(); err != nil {
		return nil, err
	}
	return c.emit()
}

func (c *compiler) consume(tok string) error {
	neg := false
	if strings.HasPrefix(tok, "-") && len(tok) > 1 {
		neg = true
		tok = tok[1:]
	}

	key, value, keyed := strings.Cut(tok, ":")
	if !keyed {
		c.texts = append(c.texts, textTerm{neg: neg, pattern: tok})
		return nil
	}

	switch strings.ToLower(key) {
	case "user":
		return c.consumeUser(neg, value)
	case "ip":
		return c.consumeIP(neg, value)
	case "albumid":
		return c.consumeAlbum(neg, value)
	case "type":
		c.types = append(c.types, textTerm{neg: neg, pattern: value})
		return nil
	case "date":
		return c.consumeRange(&c.date, value)
	case "expiry":
		return c.consumeRange(&c.expiry, value)
	case "is":
		return c.consumeIs(neg, value)
	case "sort", "orderby":
		return c.consumeSort(value)
	default:
		// Unknown keys are plain text.
		c.texts = append(c.texts, textTerm{neg: neg, pattern: tok})
		return nil
	}
}

func (c *compiler) consumeUser(neg bool, value string) error {
	if !c.opt.Moderator || !c.opt.All {
		return apperr.Clientf("usage of user key is restricted")
	}
	if value == "-" {
		c.users.addNull(neg)
		return nil
	}
	if c.opt.ResolveUser == nil {
		return apperr.Clientf("unknown user: %s", value)
	}
	id, ok := c.opt.ResolveUser(value)
	if !ok {
		return apperr.Clientf("unknown user: %s", value)
	}
	c.users.add(neg, id)
	return nil
}

func (c *compiler) consumeIP(neg bool, value string) error {
	if !c.opt.Moderator || !c.opt.All {
		return apperr.Clientf("usage of ip key is restricted")
	}
	if value == "-" {
		c.ips.addNull(neg)
		return nil
	}
	c.ips.add(neg, value)
	return nil
}

func (c *compiler) consumeAlbum(neg bool, value string) error {
	if c.opt.AlbumID != nil {
		// Already scoped to one album; the key is meaningless here.
		return nil
	}
	if value == "-" {
		c.albums.addNull(neg)
		return nil
	}
	id, err := strconv.ParseUint(value, 10, 32)
	if err != nil {
		return apperr.Clientf("invalid albumid: %s", value)
	}
	c.albums.add(neg, uint(id))
	return nil
}

func (c *compiler) consumeRange(r *timeRange, value string) error {
	from, to, err := parseTimeRange(value, c.opt.MinOffset, c.opt.clock())
	if err != nil {
		return err
	}
	// Later terms narrow the window.
	if from != nil && (r.From == nil || *from > *r.From) {
		r.From = from
	}
	if to != nil && (r.To == nil || *to < *r.To) {
		r.To = to
	}
	return nil
}

func (c *compiler) consumeIs(neg bool, value string) error {
	value = strings.ToLower(value)
	if _, ok := isExtensions[value]; !ok {
		return apperr.Clientf("invalid is key: %s", value)
	}
	c.isCount++
	c.isKeys = append(c.isKeys, textTerm{neg: neg, pattern: value})
	return nil
}

func (c *compiler) consumeSort(value string) error {
	column, dir, _ := strings.Cut(strings.ToLower(value), ":")
	meta, ok := sortColumns[column]
	if !ok {
		return apperr.Clientf("invalid sort key: %s", column)
	}
	if meta.privileged && (!c.opt.Moderator || !c.opt.All) {
		return apperr.Clientf("sorting by %s is restricted", column)
	}
	desc := false
	switch dir {
	case "", "asc", "a":
	case "desc", "d":
		desc = true
	default:
		return apperr.Clientf("invalid sort direction: %s", dir)
	}
	c.sorts = append(c.sorts, sortKey{column: column, desc: desc})
	return nil
}

func (c *compiler) enforceCaps() error {
	if c.opt.Moderator {
		return nil
	}
	if len(c.texts) > c.caps.TextQueries {
		return apperr.Clientf("you may only use up to %d text queries at a time", c.caps.TextQueries)
	}
	if len(c.sorts) > c.caps.SortKeys {
		return apperr.Clientf("you may only use up to %d sort keys at a time", c.caps.SortKeys)
	}
	if c.isCount > c.caps.IsKeys {
		return apperr.Clientf("you may only use up to %d is keys at a time", c.caps.IsKeys)
	}
	for _, t := range c.texts {
		if wildcards(t.pattern) > c.caps.WildcardsPerKey {
			return apperr.Clientf("you may only use up to %d wildcards per key", c.caps.WildcardsPerKey)
		}
	}
	for _, t := range c.types {
		if wildcards(t.pattern) > c.caps.WildcardsPerKey {
			return apperr.Clientf("you may only use up to %d wildcards per key", c.caps.WildcardsPerKey)
		}
	}
	return nil
}

func wildcards(s string) int {
	return strings.Count(s, "*") + strings.Count(s, "?")
}

// fragment accumulates AND-joined predicates with their parameters.
type fragment struct {
	clauses []string
	args    []any
}

func (f *fragment) add(clause string, args ...any) {
	f.clauses = append(f.clauses, clause)
	f.args = append(f.args, args...)
}

func (c *compiler) emit() (*Result, error) {
	var f fragment

	// Owner scope first.
	if c.opt.UserID != nil {
		f.add("userid = ?", *c.opt.UserID)
	} else if !c.users.empty() {
		emitSet(&f, "userid", &c.users)
	}

	if c.opt.AlbumID != nil {
		f.add("albumid = ?", *c.opt.AlbumID)
	} else if !c.albums.empty() {
		emitSet(&f, "albumid", &c.albums)
	}

	if !c.ips.empty() {
		emitSet(&f, "ip", &c.ips)
	}

	emitRange(&f, "timestamp", &c.date)
	if !c.expiry.empty() {
		emitRange(&f, "expirydate", &c.expiry)
		f.add("expirydate IS NOT NULL")
	}

	for _, t := range c.isKeys {
		emitIs(&f, t)
	}

	for _, t := range c.types {
		pattern := globToLike(t.pattern)
		if t.neg {
			f.add(`type NOT LIKE ? ESCAPE '\'`, pattern)
		} else {
			f.add(`type LIKE ? ESCAPE '\'`, pattern)
		}
	}

	for _, t := range c.texts {
		// Free text matches either the public or the original name.
		pattern := "%" + globToLike(t.pattern) + "%"
		if t.neg {
			f.add(`NOT (name LIKE ? ESCAPE '\' OR original LIKE ? ESCAPE '\')`, pattern, pattern)
		} else {
			f.add(`(name LIKE ? ESCAPE '\' OR original LIKE ? ESCAPE '\')`, pattern, pattern)
		}
	}

	return &Result{
		Where: strings.Join(f.clauses, " AND "),
		Args:  f.args,
		Order: c.orderBy(),
	}, nil
}

func emitSet(f *fragment, column string, s *set) {
	// Exclusion wins when the null sentinel appears on both sides.
	inclNull := s.inclNull && !s.exclNull

	if len(s.include) > 0 || inclNull {
		var parts []string
		if len(s.include) > 0 {
			parts = append(parts, column+" IN ("+placeholders(len(s.include))+")")
			f.args = append(f.args, s.include...)
		}
		if inclNull {
			parts = append(parts, column+" IS NULL")
		}
		f.clauses = append(f.clauses, "("+strings.Join(parts, " OR ")+")")
	}
	if len(s.exclude) > 0 {
		f.add("("+column+" NOT IN ("+placeholders(len(s.exclude))+") OR "+column+" IS NULL)", s.exclude...)
	}
	if s.exclNull {
		f.add(column + " IS NOT NULL")
	}
}

func emitRange(f *fragment, column string, r *timeRange) {
	if r.From != nil {
		f.add(column+" >= ?", *r.From)
	}
	if r.To != nil {
		f.add(column+" < ?", *r.To)
	}
}

func emitIs(f *fragment, t textTerm) {
	exts := isExtensions[t.pattern]
	parts := make([]string, len(exts))
	for i, ext := range exts {
		parts[i] = "name LIKE ?"
		f.args = append(f.args, "%"+ext)
	}
	clause := "(" + strings.Join(parts, " OR ") + ")"
	if t.neg {
		clause = "NOT " + clause
	}
	f.clauses = append(f.clauses, clause)
}

func (c *compiler) orderBy() string {
	if len(c.sorts) == 0 {
		return "id DESC"
	}
	parts := make([]string, len(c.sorts))
	for i, s := range c.sorts {
		meta := sortColumns[s.column]
		col := s.column
		if meta.cast {
			col = "CAST(" + col + " AS INTEGER)"
		}
		dir := "ASC"
		if s.desc {
			dir = "DESC"
		}
		part := col + " " + dir
		if meta.nullable {
			part += " NULLS LAST"
		}
		parts[i] = part
	}
	return strings.Join(parts, ", ")
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

// globToLike rewrites glob wildcards to LIKE metacharacters, escaping any
// literal %/_ (and backslash) the input carried.
func globToLike(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '*':
			b.WriteByte('%')
		case '?':
			b.WriteByte('_')
		case '%', '_', '\\':
			b.WriteByte('\\')
			b.WriteRune(r)
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// tokenize splits on whitespace, keeping double-quoted spans together.
// Quotes may follow a key prefix ("original:\"some name\"").
func tokenize(raw string) []string {
	var tokens []string
	var b strings.Builder
	quoted := false
	flush := func() {
		if b.Len() > 0 {
			tokens = append(tokens, b.String())
			b.Reset()
		}
	}
	for _, r := range raw {
		switch {
		case r == '"':
			quoted = !quoted
		case !quoted && (r == ' ' || r == '\t' || r == '\n'):
			flush()
		default:
			b.WriteRune(r)
		}
	}
	flush()
	return tokens
}

// PageOffset resolves a page index to a row offset; negative pages
// address from the tail.
func PageOffset(page int, pageSize int, total int64) int {
	if page >= 0 {
		return page * pageSize
	}
	if pageSize <= 0 {
		return 0
	}
	pages := int((total + int64(pageSize) - 1) / int64(pageSize))
	resolved := pages + page
	if resolved < 0 {
		resolved = 0
	}
	return resolved * pageSize
}

// String renders the result for logs.
func (r *Result) String() string {
	return fmt.Sprintf("where=%q order=%q args=%d", r.Where, r.Order, len(r.Args))
}
