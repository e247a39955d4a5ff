// Package firmware stores firmware images in A/B slots and downloads new
// images over HTTPS.
//
// An image is a 128-byte Header followed by the payload. The header carries
// the payload length, its SHA-256 and a 32-byte version. Slots keeps two
// image files plus otadata.json naming the boot slot and the state of each
// slot (valid, pending_verify, invalid). A freshly installed image boots as
// pending_verify and is rolled back on the next start unless it has been
// confirmed with MarkRunningValid.
//
// Updater, Slots and CommandRestarter implement the interfaces of the ota
// package.
package firmware
