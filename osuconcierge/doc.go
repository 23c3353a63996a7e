// Package osuconcierge implements a Discord bot serving osu! statistics
// as interactive, paginated messages.
//
// Each paginated reply is an active message: a Discord message whose
// buttons, select menus and modals keep working for as long as the
// message is tracked. Key components of the package include:
//
//   - Concierge: The main struct, wiring discord, storage and the
//     active message subsystem together.
//   - Registry: Tracks active messages by channel and message ID.
//   - Router: Dispatches component and modal interactions to the
//     active message they belong to, and edits the message in response.
//   - Paginator: Sends the first page of a new active message, and
//     starts tracking it.
//   - Sweeper: Disables the controls of messages idle for longer than
//     their TTL, and stops tracking them.
//   - OsuClient: A rate limited, cached client for the osu! v2 API.
//   - API: An admin HTTP API for inspecting and closing active messages.
//
// The bot supports these commands:
//
//   - /medals missing: Medals a user hasn't earned, grouped and sortable.
//   - /medals list: Medals a user has earned.
//   - /osekai medalcount: Users ranked by medal count, per osekai.
//   - /higherlower: A game of guessing which top play is worth more pp.
//   - /top: A user's top scores.
//   - /serverleaderboard: Linked members of the server, ranked.
//   - /graph rank: A rendered graph of a user's global rank.
//   - /commands: How often each command has been used.
//   - /link: Links a Discord user to an osu! profile.
//
// Interactions can be received over the discord gateway, or via the
// webhook server.
package osuconcierge
