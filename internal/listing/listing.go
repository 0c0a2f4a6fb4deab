// Package listing turns bucket listings into directory entries.
//
// A listing has the shape of an S3 ListBucketResult: the prefix the store
// echoes back, the objects directly under it and, when a delimiter was used,
// the common prefixes that stand for subdirectories.
package listing

import (
	"encoding/xml"
	"sort"
	"strings"
)

// Object is a single key in a listing.
type Object struct {
	Key  string `xml:"Key"`
	Size int64  `xml:"Size"`
}

// CommonPrefix is a group of keys that share a prefix up to the delimiter.
type CommonPrefix struct {
	Prefix string `xml:"Prefix"`
}

// Result is a bucket listing. Field tags match the S3 ListBucketResult
// document; element namespaces are ignored.
type Result struct {
	XMLName        xml.Name       `xml:"ListBucketResult"`
	Prefix         string         `xml:"Prefix"`
	Contents       []Object       `xml:"Contents"`
	CommonPrefixes []CommonPrefix `xml:"CommonPrefixes"`
}

// Entry is one line of a directory listing.
type Entry struct {
	Name string
	Dir  bool
	Size int64
}

// Exists reports whether any common prefix in the listing starts with prefix.
func Exists(res *Result, prefix string) bool {
	if res == nil {
		return false
	}
	for _, cp := range res.CommonPrefixes {
		if strings.HasPrefix(cp.Prefix, prefix) {
			return true
		}
	}
	return false
}

// Entries converts a listing into directory entries relative to the echoed
// prefix. The result always starts with "." and "..", followed by
// subdirectories and then files, each in listing order.
//
// Zero-sized objects are left out; directory markers are empty and their
// directories already appear as common prefixes.
func Entries(res *Result) []Entry {
	entries := []Entry{{Name: ".", Dir: true}, {Name: "..", Dir: true}}
	if res == nil {
		return entries
	}
	prefix := res.Prefix

	for _, cp := range res.CommonPrefixes {
		if cp.Prefix == prefix+"/" {
			continue
		}
		name := strings.TrimSuffix(strings.TrimPrefix(cp.Prefix, prefix), "/")
		if name == "" {
			continue
		}
		entries = append(entries, Entry{Name: name, Dir: true})
	}

	for _, obj := range res.Contents {
		if obj.Key == prefix || obj.Size == 0 {
			continue
		}
		entries = append(entries, Entry{Name: strings.TrimPrefix(obj.Key, prefix), Size: obj.Size})
	}
	return entries
}

// Keys returns every object key in the listing, markers included.
func Keys(res *Result) []string {
	if res == nil {
		return nil
	}
	keys := make([]string, 0, len(res.Contents))
	for _, obj := range res.Contents {
		keys = append(keys, obj.Key)
	}
	return keys
}

// Build groups a flat set of objects the way an S3 listing does. Objects that
// do not start with prefix are ignored. With a non-empty delimiter, keys that
// contain it past the prefix are folded into common prefixes.
func Build(prefix, delimiter string, objects []Object) *Result {
	sorted := make([]Object, 0, len(objects))
	for _, obj := range objects {
		if strings.HasPrefix(obj.Key, prefix) {
			sorted = append(sorted, obj)
		}
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Key < sorted[j].Key })

	res := &Result{Prefix: prefix}
	seen := make(map[string]bool)
	for _, obj := range sorted {
		if delimiter != "" {
			rest := obj.Key[len(prefix):]
			if i := strings.Index(rest, delimiter); i >= 0 {
				cp := prefix + rest[:i+len(delimiter)]
				if !seen[cp] {
					seen[cp] = true
					res.CommonPrefixes = append(res.CommonPrefixes, CommonPrefix{Prefix: cp})
				}
				continue
			}
		}
		res.Contents = append(res.Contents, obj)
	}
	return res
}
