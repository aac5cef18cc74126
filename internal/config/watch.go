package config

import (
    "context"

    "github.com/fsnotify/fsnotify"
    "github.com/rs/zerolog"
)

// WatchFieldMap monitors the mapping file and calls onChange with the freshly
// loaded FieldMap on every write. A failed reload keeps the previous mapping
// active. Runs until ctx is cancelled.
func WatchFieldMap(ctx context.Context, path string, log zerolog.Logger, onChange func(FieldMap)) error {
    watcher, err := fsnotify.NewWatcher()
    if err != nil { return err }
    defer watcher.Close()

    if err := watcher.Add(path); err != nil { return err }
    log.Info().Str("path", path).Msg("field map: watching for changes")

    for {
        select {
        case <-ctx.Done():
            return nil
        case event, ok := <-watcher.Events:
            if !ok { return nil }
            // Editors often save via rename, so catch Create as well as Write.
            if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) { continue }
            fm, err := LoadFieldMap(path)
            if err != nil {
                log.Error().Err(err).Str("path", path).Msg("field map: reload failed, keeping previous")
                continue
            }
            log.Info().Str("path", path).Msg("field map: reloaded")
            onChange(fm)
            // Re-add in case an atomic save replaced the inode.
            _ = watcher.Add(path)
        case err, ok := <-watcher.Errors:
            if !ok { return nil }
            log.Error().Err(err).Msg("field map: watcher error")
        }
    }
}
