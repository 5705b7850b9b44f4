// Package textutil provides the small text helpers shared by the catalog and
// the artifact writers:
//   - NormKey folds tag and performer names into their case and
//     diacritic-insensitive lookup key
//   - SanitizeToken and PathToken produce filesystem-safe artifact names
//   - PhashDistance compares perceptual fingerprints stored as hex strings
package textutil
